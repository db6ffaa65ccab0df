package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// decodeJSON reads and unmarshals a JSON request body.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	defer func() {
		_ = r.Body.Close()
	}()
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
