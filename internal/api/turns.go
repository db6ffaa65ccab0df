package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/attestads/internal/db"
	"github.com/patrickwarner/attestads/internal/middleware"
	"github.com/patrickwarner/attestads/internal/models"
)

type verificationResponse struct {
	TurnID string `json:"turn_id"`
	Status string `json:"status"`
}

// TurnHandler handles POST /v1/conversations/turns. Turns produced by a NEAR
// model are queued for verification and answered with 202; anything else is
// acknowledged with 204.
func (s *Server) TurnHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var turn models.ConversationTurn
	if err := decodeJSON(r, &turn); err != nil {
		logger.Warn("decode turn", zap.Error(err))
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if !s.Verifier.Eligible(turn) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	turnID := *turn.UUID

	s.turnMu.Lock()
	if !s.Verifier.IsVerifying(turnID) && s.Store != nil && s.Store.Client != nil {
		if err := s.Store.SetVerificationState(r.Context(), turnID, db.VerificationPending, s.pendingTTL()); err != nil {
			s.turnMu.Unlock()
			logger.Error("cache pending state", zap.String("turn_id", turnID), zap.Error(err))
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	s.Verifier.MaybeVerifyConversationEntry(turn)
	s.turnMu.Unlock()

	writeJSON(w, http.StatusAccepted, verificationResponse{TurnID: turnID, Status: db.VerificationPending})
}

// VerificationHandler handles GET /v1/conversations/turns/{uuid}/verification.
func (s *Server) VerificationHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	turnID := mux.Vars(r)["uuid"]

	state := ""
	if s.Store != nil && s.Store.Client != nil {
		cached, err := s.Store.GetVerificationState(r.Context(), turnID)
		switch {
		case err == nil:
			state = cached
		case errors.Is(err, db.ErrVerificationNotFound):
		default:
			logger.Error("read verification state", zap.String("turn_id", turnID), zap.Error(err))
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	if state == "" && s.Verifier.IsVerifying(turnID) {
		state = db.VerificationPending
	}
	if state == "" {
		http.Error(w, "unknown turn", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, verificationResponse{TurnID: turnID, Status: state})
}
