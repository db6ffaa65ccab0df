package api

import "net/http"

// HealthHandler responds with a simple status check.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	active := 0
	if s.Verifier != nil {
		active = s.Verifier.ActiveTurns()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"active_verifications": active,
	})
}
