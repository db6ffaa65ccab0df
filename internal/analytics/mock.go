package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/patrickwarner/attestads/internal/models"
)

var _ AnalyticsService = (*MockAnalytics)(nil)
var _ AnalyticsService = (*Analytics)(nil)

// MockAnalytics records calls in memory for tests.
type MockAnalytics struct {
	mu            sync.Mutex
	Verifications []VerificationRecord
	AdEvents      []models.AdEvent
	// Err, when set, is returned from every call.
	Err error
}

// NewMockAnalytics creates a new mock analytics instance
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{}
}

func (m *MockAnalytics) RecordVerification(ctx context.Context, turnID string, verified bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Verifications = append(m.Verifications, VerificationRecord{Timestamp: at, TurnID: turnID, Verified: verified})
	return nil
}

func (m *MockAnalytics) RecordAdEvent(ctx context.Context, ev models.AdEvent, targetingCtx models.TargetingContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.AdEvents = append(m.AdEvents, ev)
	return nil
}

// VerificationsFor returns the recorded verdicts for turnID.
func (m *MockAnalytics) VerificationsFor(turnID string) []VerificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VerificationRecord
	for _, v := range m.Verifications {
		if v.TurnID == turnID {
			out = append(out, v)
		}
	}
	return out
}

// EventCount returns the number of recorded ad events.
func (m *MockAnalytics) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AdEvents)
}
