// Package nearverify polls the NEAR attestation service for the completion
// log IDs of a conversation turn and reports one verdict per turn.
package nearverify

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/patrickwarner/attestads/internal/models"
	"github.com/patrickwarner/attestads/internal/observability"
	"go.uber.org/zap"
)

const (
	DefaultPendingRetryInterval     = 2 * time.Second
	DefaultServerErrorRetryInterval = 10 * time.Second
	DefaultMaxPendingDuration       = 60 * time.Second
)

// reasons reported with completion and retry metrics
const (
	reasonVerified    = "verified"
	reasonRejected    = "rejected"
	reasonTimeout     = "timeout"
	reasonHTTPStatus  = "http_status"
	reasonInvalidBody = "invalid_body"
	reasonPending     = "pending"
	reasonServerError = "server_error"
	reasonTransport   = "transport_error"
)

// ModelLookup resolves a model key to its definition.
type ModelLookup interface {
	GetModel(key string) (models.ChatModel, bool)
}

// TurnVerifiedFunc receives the verdict for a turn. It is called exactly once
// per verified turn, after the turn's state has been discarded, and never
// while the verifier's lock is held.
type TurnVerifiedFunc func(turnID string, verified bool)

// Options tunes the retry policy. Zero values fall back to the defaults.
type Options struct {
	PendingRetryInterval     time.Duration
	ServerErrorRetryInterval time.Duration
	MaxPendingDuration       time.Duration
	Clock                    clockwork.Clock
	Logger                   *zap.Logger
	Metrics                  observability.MetricsRegistry
}

// turnState is the bookkeeping for one turn under verification.
type turnState struct {
	turnID          string
	modelName       string
	startTime       time.Time
	pendingRequests int
	retryTimers     map[string]clockwork.Timer

	// ctx is cancelled when the state is discarded so in-flight requests abort.
	ctx    context.Context
	cancel context.CancelFunc
}

// Verifier tracks every turn currently under verification. It is safe for
// concurrent use; response and timer handlers run on their own goroutines.
type Verifier struct {
	client     HTTPClient
	models     ModelLookup
	onVerified TurnVerifiedFunc

	pendingRetry     time.Duration
	serverErrorRetry time.Duration
	maxPending       time.Duration
	clock            clockwork.Clock
	logger           *zap.Logger
	metrics          observability.MetricsRegistry

	mu     sync.Mutex
	states map[string]*turnState
	closed bool
	wg     sync.WaitGroup
}

// NewVerifier creates a Verifier that reports verdicts to onVerified.
func NewVerifier(client HTTPClient, lookup ModelLookup, onVerified TurnVerifiedFunc, opts Options) *Verifier {
	v := &Verifier{
		client:           client,
		models:           lookup,
		onVerified:       onVerified,
		pendingRetry:     opts.PendingRetryInterval,
		serverErrorRetry: opts.ServerErrorRetryInterval,
		maxPending:       opts.MaxPendingDuration,
		clock:            opts.Clock,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		states:           make(map[string]*turnState),
	}
	if v.pendingRetry <= 0 {
		v.pendingRetry = DefaultPendingRetryInterval
	}
	if v.serverErrorRetry <= 0 {
		v.serverErrorRetry = DefaultServerErrorRetryInterval
	}
	if v.maxPending <= 0 {
		v.maxPending = DefaultMaxPendingDuration
	}
	if v.clock == nil {
		v.clock = clockwork.NewRealClock()
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	if v.metrics == nil {
		v.metrics = observability.NewNoOpRegistry()
	}
	return v
}

// MaybeVerifyConversationEntry starts verification for turn when it was
// produced by a NEAR model and carries at least one log ID. Anything else is
// ignored, as is a turn that is already being verified.
func (v *Verifier) MaybeVerifyConversationEntry(turn models.ConversationTurn) {
	model, logIDs, ok := v.eligible(turn)
	if !ok {
		return
	}
	turnID := *turn.UUID

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	if _, exists := v.states[turnID]; exists {
		v.logger.Debug("turn already under verification", zap.String("turn_id", turnID))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &turnState{
		turnID:          turnID,
		modelName:       model.Name,
		startTime:       v.clock.Now(),
		pendingRequests: len(logIDs),
		retryTimers:     make(map[string]clockwork.Timer),
		ctx:             ctx,
		cancel:          cancel,
	}
	v.states[turnID] = st
	v.metrics.IncrementVerificationStarted()
	v.metrics.SetVerificationActive(len(v.states))
	v.logger.Debug("verification started",
		zap.String("turn_id", turnID),
		zap.String("model", model.Name),
		zap.Int("log_ids", len(logIDs)))

	for _, logID := range logIDs {
		v.verifyLogIDLocked(st, logID)
	}
}

// Eligible reports whether MaybeVerifyConversationEntry would verify turn,
// ignoring whether it is already under verification.
func (v *Verifier) Eligible(turn models.ConversationTurn) bool {
	_, _, ok := v.eligible(turn)
	return ok
}

func (v *Verifier) eligible(turn models.ConversationTurn) (models.ChatModel, []string, bool) {
	if turn.UUID == nil || turn.ModelKey == nil || len(turn.Events) == 0 {
		return models.ChatModel{}, nil, false
	}
	model, ok := v.models.GetModel(*turn.ModelKey)
	if !ok || !model.IsNEAR {
		return models.ChatModel{}, nil, false
	}
	logIDs := turn.UniqueLogIDs()
	if len(logIDs) == 0 {
		return models.ChatModel{}, nil, false
	}
	return model, logIDs, true
}

// verifyLogIDLocked issues the attestation request for logID on its own
// goroutine. v.mu must be held and st must be the current state of its turn.
func (v *Verifier) verifyLogIDLocked(st *turnState, logID string) {
	path := VerificationPath(st.modelName, logID)
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		ctx, span := observability.StartVerificationSpan(st.ctx, st.turnID, logID)
		resp, err := v.client.Get(ctx, path)
		span.End()
		v.onVerificationResponse(st, logID, resp, err)
	}()
}

// owns reports whether st is still the live state of its turn. v.mu must be
// held.
func (v *Verifier) owns(st *turnState) bool {
	return v.states[st.turnID] == st
}

func (v *Verifier) onVerificationResponse(st *turnState, logID string, resp *Response, err error) {
	v.mu.Lock()
	if !v.owns(st) {
		v.mu.Unlock()
		v.logger.Debug("discarding response for finished turn",
			zap.String("turn_id", st.turnID), zap.String("log_id", logID))
		return
	}
	elapsed := v.clock.Since(st.startTime)
	v.mu.Unlock()

	if elapsed > v.maxPending {
		v.completeVerification(st, false, reasonTimeout)
		return
	}

	if err != nil {
		v.logger.Warn("attestation request failed",
			zap.String("turn_id", st.turnID), zap.String("log_id", logID), zap.Error(err))
		v.scheduleRetry(st, logID, v.serverErrorRetry, reasonTransport)
		return
	}
	if resp.StatusCode >= 500 && resp.StatusCode <= 599 {
		v.scheduleRetry(st, logID, v.serverErrorRetry, reasonServerError)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		v.logger.Info("attestation request rejected",
			zap.String("turn_id", st.turnID),
			zap.String("log_id", logID),
			zap.Int("status_code", resp.StatusCode))
		v.completeVerification(st, false, reasonHTTPStatus)
		return
	}

	switch parseAttestation(resp.Body) {
	case attestationPending:
		v.scheduleRetry(st, logID, v.pendingRetry, reasonPending)
	case attestationRejected:
		v.completeVerification(st, false, reasonRejected)
	case attestationVerified:
		v.mu.Lock()
		if !v.owns(st) {
			v.mu.Unlock()
			return
		}
		st.pendingRequests--
		done := st.pendingRequests <= 0
		v.mu.Unlock()
		if done {
			v.completeVerification(st, true, reasonVerified)
		}
	default:
		v.logger.Info("unexpected attestation body",
			zap.String("turn_id", st.turnID), zap.String("log_id", logID))
		v.completeVerification(st, false, reasonInvalidBody)
	}
}

// scheduleRetry re-issues the request for logID after interval. An earlier
// timer for the same log ID is replaced.
func (v *Verifier) scheduleRetry(st *turnState, logID string, interval time.Duration, reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.owns(st) {
		return
	}
	if prev, ok := st.retryTimers[logID]; ok {
		prev.Stop()
	}
	var timer clockwork.Timer
	timer = v.clock.AfterFunc(interval, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if !v.owns(st) || st.retryTimers[logID] != timer {
			return
		}
		delete(st.retryTimers, logID)
		v.verifyLogIDLocked(st, logID)
	})
	st.retryTimers[logID] = timer
	v.metrics.IncrementVerificationRetries(reason)
}

// completeVerification discards the turn's state and reports the verdict.
// Only the first call for a given state has any effect.
func (v *Verifier) completeVerification(st *turnState, verified bool, reason string) {
	v.mu.Lock()
	if !v.owns(st) {
		v.mu.Unlock()
		return
	}
	v.discardLocked(st)
	v.metrics.SetVerificationActive(len(v.states))
	v.mu.Unlock()

	v.metrics.IncrementVerificationCompleted(verified, reason)
	v.logger.Info("verification complete",
		zap.String("turn_id", st.turnID),
		zap.Bool("verified", verified),
		zap.String("reason", reason),
		zap.Duration("elapsed", v.clock.Since(st.startTime)))

	if v.onVerified != nil {
		v.onVerified(st.turnID, verified)
	}
}

// discardLocked removes st, stops its timers and aborts its requests.
func (v *Verifier) discardLocked(st *turnState) {
	delete(v.states, st.turnID)
	for logID, t := range st.retryTimers {
		t.Stop()
		delete(st.retryTimers, logID)
	}
	st.cancel()
}

// IsVerifying reports whether turnID is currently under verification.
func (v *Verifier) IsVerifying(turnID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.states[turnID]
	return ok
}

// ActiveTurns returns the number of turns under verification.
func (v *Verifier) ActiveTurns() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.states)
}

// Close abandons every turn without reporting verdicts and waits for
// in-flight requests to return. It returns the IDs of the abandoned turns.
// Later calls to MaybeVerifyConversationEntry are ignored.
func (v *Verifier) Close() []string {
	v.mu.Lock()
	v.closed = true
	abandoned := make([]string, 0, len(v.states))
	for turnID, st := range v.states {
		abandoned = append(abandoned, turnID)
		v.discardLocked(st)
	}
	v.metrics.SetVerificationActive(0)
	v.mu.Unlock()

	v.wg.Wait()
	return abandoned
}
