package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/attestads/internal/models"
)

// AnalyticsService defines the interface for analytics operations.
// Implementations should handle cases where underlying storage is unavailable
// by returning ErrUnavailable.
type AnalyticsService interface {
	// RecordVerification stores the verdict reached for a conversation turn.
	RecordVerification(ctx context.Context, turnID string, verified bool, at time.Time) error
	// RecordAdEvent stores an ad event with the request's targeting context.
	RecordAdEvent(ctx context.Context, ev models.AdEvent, targetingCtx models.TargetingContext) error
}

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = fmt.Errorf("analytics unavailable")

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB *sql.DB
}

// PoolConfig sizes the ClickHouse connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// VerificationRecord mirrors a row in the turn_verifications table.
type VerificationRecord struct {
	Timestamp time.Time `json:"timestamp"`
	TurnID    string    `json:"turn_id"`
	Verified  bool      `json:"verified"`
}

// AdEventRecord mirrors a row in the ad_events table.
type AdEventRecord struct {
	Timestamp          time.Time `json:"timestamp"`
	EventType          string    `json:"event_type"`
	PlacementID        string    `json:"placement_id"`
	CreativeInstanceID string    `json:"creative_instance_id"`
	CreativeSetID      string    `json:"creative_set_id"`
	CampaignID         string    `json:"campaign_id"`
	AdvertiserID       string    `json:"advertiser_id"`
	Segment            string    `json:"segment"`
	Format             string    `json:"format"`
	Platform           *string   `json:"platform"`
	Country            *string   `json:"country"`
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS turn_verifications (
       timestamp DateTime,
       turn_id   String,
       verified  UInt8
   ) ENGINE=MergeTree() ORDER BY (turn_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS ad_events (
       timestamp            DateTime,
       event_type           String,
       placement_id         String,
       creative_instance_id String,
       creative_set_id      String,
       campaign_id          String,
       advertiser_id        String,
       segment              String,
       format               String,
       platform             Nullable(String),
       country              Nullable(String)
   ) ENGINE=MergeTree() ORDER BY (event_type, timestamp)`,
}

// InitClickHouse connects to ClickHouse and ensures the tables exist.
func InitClickHouse(ctx context.Context, dsn string, pool PoolConfig) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("clickhouse create table: %w", err)
		}
	}

	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: db}, nil
}

func (a *Analytics) RecordVerification(ctx context.Context, turnID string, verified bool, at time.Time) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	var v uint8
	if verified {
		v = 1
	}
	stmt := `INSERT INTO turn_verifications (timestamp, turn_id, verified) VALUES (?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, at, turnID, v); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("turn_id", turnID))
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

func (a *Analytics) RecordAdEvent(ctx context.Context, ev models.AdEvent, targetingCtx models.TargetingContext) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	var platform sql.NullString
	if targetingCtx.Platform != "" {
		platform.String = targetingCtx.Platform
		platform.Valid = true
	}
	var country sql.NullString
	if targetingCtx.Country != "" {
		country.String = targetingCtx.Country
		country.Valid = true
	}

	stmt := `INSERT INTO ad_events (timestamp, event_type, placement_id, creative_instance_id, creative_set_id, campaign_id, advertiser_id, segment, format, platform, country) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, ev.CreatedAt, string(ev.Type), ev.PlacementID, ev.CreativeInstanceID,
		ev.CreativeSetID, ev.CampaignID, ev.AdvertiserID, ev.Segment, string(ev.Format), platform, country); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", string(ev.Type)))
		return fmt.Errorf("insert %s event: %w", ev.Type, err)
	}
	return nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

// GetVerifications returns the recorded verdicts for a turn ordered by timestamp.
func (a *Analytics) GetVerifications(ctx context.Context, turnID string) ([]VerificationRecord, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT timestamp, turn_id, verified FROM turn_verifications WHERE turn_id=? ORDER BY timestamp`
	rows, err := a.DB.QueryContext(ctx, query, turnID)
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var out []VerificationRecord
	for rows.Next() {
		var rec VerificationRecord
		var v uint8
		if err := rows.Scan(&rec.Timestamp, &rec.TurnID, &v); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		rec.Verified = v == 1
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// GetAdEventsByPlacement returns all events for a placement ordered by timestamp.
func (a *Analytics) GetAdEventsByPlacement(ctx context.Context, placementID string) ([]AdEventRecord, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT timestamp, event_type, placement_id, creative_instance_id, creative_set_id, campaign_id, advertiser_id, segment, format, platform, country FROM ad_events WHERE placement_id=? ORDER BY timestamp`
	rows, err := a.DB.QueryContext(ctx, query, placementID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []AdEventRecord
	for rows.Next() {
		var ev AdEventRecord
		if err := rows.Scan(&ev.Timestamp, &ev.EventType, &ev.PlacementID, &ev.CreativeInstanceID, &ev.CreativeSetID,
			&ev.CampaignID, &ev.AdvertiserID, &ev.Segment, &ev.Format, &ev.Platform, &ev.Country); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}
