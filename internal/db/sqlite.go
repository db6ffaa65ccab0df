package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/attestads/internal/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLite holds creative ads and the ad-event history.
type SQLite struct {
	DB   *sql.DB
	path string
}

// InitSQLite opens the database at path in WAL mode and applies pending
// migrations.
func InitSQLite(path string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	db, err := otelsql.Open("sqlite3", dsn,
		otelsql.WithAttributes(attribute.String("db.system", "sqlite")),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}

	s := &SQLite{DB: db, path: path}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	zap.L().Info("Opened SQLite database",
		zap.String("path", path),
		zap.Int("max_open_conns", maxOpenConns))
	return s, nil
}

// migrate applies embedded migrations that are not yet recorded in
// schema_migrations, in file name order.
func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var count int
		if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}
		content, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, name, time.Now().Unix()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Close terminates the SQLite connection.
func (s *SQLite) Close() {
	if s != nil && s.DB != nil {
		if err := s.DB.Close(); err != nil {
			zap.L().Error("sqlite close", zap.Error(err))
		}
	}
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// SaveCreativeAds replaces the stored creative ads with ads.
func (s *SQLite) SaveCreativeAds(ctx context.Context, ads []models.CreativeAd) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// child tables cascade
	if _, err := tx.ExecContext(ctx, `DELETE FROM creative_ads`); err != nil {
		return fmt.Errorf("clear creative ads: %w", err)
	}

	for _, ad := range ads {
		if ad.CreativeInstanceID == "" {
			return models.ErrInvalidEntity
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO creative_ads (creative_instance_id, creative_set_id, campaign_id, advertiser_id, format, priority, value, per_day, per_week, total_max, per_hour, start_at, end_at, title, body, target_url) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			ad.CreativeInstanceID, ad.CreativeSetID, ad.CampaignID, ad.AdvertiserID, string(ad.Format),
			ad.Priority, ad.Value, ad.PerDay, ad.PerWeek, ad.TotalMax, ad.PerHour,
			toMillis(ad.StartAt), toMillis(ad.EndAt), ad.Title, ad.Body, ad.TargetURL); err != nil {
			return fmt.Errorf("insert creative ad %s: %w", ad.CreativeInstanceID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO segments (creative_instance_id, segment) VALUES (?,?)`, ad.CreativeInstanceID, ad.Segment); err != nil {
			return fmt.Errorf("insert segment %s: %w", ad.CreativeInstanceID, err)
		}
		for _, code := range ad.GeoTargets {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO geo_targets (creative_instance_id, code) VALUES (?,?)`, ad.CreativeInstanceID, strings.ToUpper(code)); err != nil {
				return fmt.Errorf("insert geo target %s: %w", ad.CreativeInstanceID, err)
			}
		}
		for _, p := range ad.Platforms {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO platforms (creative_instance_id, name) VALUES (?,?)`, ad.CreativeInstanceID, strings.ToLower(p)); err != nil {
				return fmt.Errorf("insert platform %s: %w", ad.CreativeInstanceID, err)
			}
		}
		for _, dp := range ad.Dayparts {
			if _, err := tx.ExecContext(ctx, `INSERT INTO dayparts (creative_instance_id, days_of_week, start_minute, end_minute) VALUES (?,?,?,?)`, ad.CreativeInstanceID, dp.DaysOfWeek, dp.StartMinute, dp.EndMinute); err != nil {
				return fmt.Errorf("insert daypart %s: %w", ad.CreativeInstanceID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadCreativeAds returns all stored creative ads ordered by creative
// instance ID.
func (s *SQLite) LoadCreativeAds(ctx context.Context) ([]models.CreativeAd, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT c.creative_instance_id, c.creative_set_id, c.campaign_id, c.advertiser_id, c.format, c.priority, c.value, c.per_day, c.per_week, c.total_max, c.per_hour, c.start_at, c.end_at, c.title, c.body, c.target_url, COALESCE(s.segment, '') FROM creative_ads c LEFT JOIN segments s ON s.creative_instance_id = c.creative_instance_id ORDER BY c.creative_instance_id`)
	if err != nil {
		return nil, fmt.Errorf("query creative ads: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ads []models.CreativeAd
	index := make(map[string]int)
	for rows.Next() {
		var ad models.CreativeAd
		var format string
		var startAt, endAt int64
		if err := rows.Scan(&ad.CreativeInstanceID, &ad.CreativeSetID, &ad.CampaignID, &ad.AdvertiserID, &format,
			&ad.Priority, &ad.Value, &ad.PerDay, &ad.PerWeek, &ad.TotalMax, &ad.PerHour,
			&startAt, &endAt, &ad.Title, &ad.Body, &ad.TargetURL, &ad.Segment); err != nil {
			return nil, fmt.Errorf("scan creative ad: %w", err)
		}
		ad.Format = models.AdFormat(format)
		ad.StartAt = fromMillis(startAt)
		ad.EndAt = fromMillis(endAt)
		index[ad.CreativeInstanceID] = len(ads)
		ads = append(ads, ad)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if err := s.loadStrings(ctx, `SELECT creative_instance_id, code FROM geo_targets ORDER BY creative_instance_id, code`, func(id, v string) {
		if i, ok := index[id]; ok {
			ads[i].GeoTargets = append(ads[i].GeoTargets, v)
		}
	}); err != nil {
		return nil, fmt.Errorf("load geo targets: %w", err)
	}
	if err := s.loadStrings(ctx, `SELECT creative_instance_id, name FROM platforms ORDER BY creative_instance_id, name`, func(id, v string) {
		if i, ok := index[id]; ok {
			ads[i].Platforms = append(ads[i].Platforms, v)
		}
	}); err != nil {
		return nil, fmt.Errorf("load platforms: %w", err)
	}

	dpRows, err := s.DB.QueryContext(ctx, `SELECT creative_instance_id, days_of_week, start_minute, end_minute FROM dayparts ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query dayparts: %w", err)
	}
	defer func() {
		_ = dpRows.Close()
	}()
	for dpRows.Next() {
		var id string
		var dp models.Daypart
		if err := dpRows.Scan(&id, &dp.DaysOfWeek, &dp.StartMinute, &dp.EndMinute); err != nil {
			return nil, fmt.Errorf("scan daypart: %w", err)
		}
		if i, ok := index[id]; ok {
			ads[i].Dayparts = append(ads[i].Dayparts, dp)
		}
	}
	if err := dpRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ads, nil
}

// loadStrings runs a two-column query and hands each row to fn.
func (s *SQLite) loadStrings(ctx context.Context, query string, fn func(id, value string)) error {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		var id, v string
		if err := rows.Scan(&id, &v); err != nil {
			return err
		}
		fn(id, v)
	}
	return rows.Err()
}

// RecordAdEvent appends an event to the ad-event history.
func (s *SQLite) RecordAdEvent(ctx context.Context, ev models.AdEvent) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO ad_events (placement_id, creative_instance_id, creative_set_id, campaign_id, advertiser_id, segment, format, type, created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		ev.PlacementID, ev.CreativeInstanceID, ev.CreativeSetID, ev.CampaignID, ev.AdvertiserID,
		ev.Segment, string(ev.Format), string(ev.Type), toMillis(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert ad event: %w", err)
	}
	return nil
}

// GetAdEventsSince returns events created at or after since, oldest first.
func (s *SQLite) GetAdEventsSince(ctx context.Context, since time.Time) ([]models.AdEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT placement_id, creative_instance_id, creative_set_id, campaign_id, advertiser_id, segment, format, type, created_at FROM ad_events WHERE created_at >= ? ORDER BY created_at, id`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("query ad events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []models.AdEvent
	for rows.Next() {
		var ev models.AdEvent
		var format, typ string
		var createdAt int64
		if err := rows.Scan(&ev.PlacementID, &ev.CreativeInstanceID, &ev.CreativeSetID, &ev.CampaignID, &ev.AdvertiserID,
			&ev.Segment, &format, &typ, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ad event: %w", err)
		}
		ev.Format = models.AdFormat(format)
		ev.Type = models.ConfirmationType(typ)
		ev.CreatedAt = fromMillis(createdAt)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

// SummarizeAdEventsSince aggregates served counts per creative set and the
// flagged creative sets and advertisers of events created at or after since.
func (s *SQLite) SummarizeAdEventsSince(ctx context.Context, since time.Time) (models.AdHistorySummary, error) {
	summary := models.NewAdHistorySummary()
	rows, err := s.DB.QueryContext(ctx, `SELECT creative_set_id, COUNT(*) FROM ad_events WHERE type = ? AND created_at >= ? GROUP BY creative_set_id`,
		string(models.ConfirmationServed), toMillis(since))
	if err != nil {
		return summary, fmt.Errorf("query served totals: %w", err)
	}
	for rows.Next() {
		var setID string
		var n int
		if err := rows.Scan(&setID, &n); err != nil {
			_ = rows.Close()
			return summary, fmt.Errorf("scan served total: %w", err)
		}
		summary.ServedByCreativeSet[setID] = n
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return summary, fmt.Errorf("rows error: %w", err)
	}
	_ = rows.Close()

	rows, err = s.DB.QueryContext(ctx, `SELECT DISTINCT creative_set_id, advertiser_id FROM ad_events WHERE type = ? AND created_at >= ?`,
		string(models.ConfirmationFlagged), toMillis(since))
	if err != nil {
		return summary, fmt.Errorf("query flagged ads: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		var ev models.AdEvent
		if err := rows.Scan(&ev.CreativeSetID, &ev.AdvertiserID); err != nil {
			return summary, fmt.Errorf("scan flagged ad: %w", err)
		}
		ev.Type = models.ConfirmationFlagged
		summary.Add(ev)
	}
	if err := rows.Err(); err != nil {
		return summary, fmt.Errorf("rows error: %w", err)
	}
	return summary, nil
}

// PurgeAdEventsBefore deletes events older than before and returns how many
// were removed.
func (s *SQLite) PurgeAdEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM ad_events WHERE created_at < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("purge ad events: %w", err)
	}
	return res.RowsAffected()
}
