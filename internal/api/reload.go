package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/patrickwarner/attestads/internal/middleware"
)

// ReloadHandler reloads creative ads from SQLite.
func (s *Server) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	if _, err := s.Reload(r.Context()); err != nil {
		logger.Error("reload failed", zap.Error(err))
		http.Error(w, "reload failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
