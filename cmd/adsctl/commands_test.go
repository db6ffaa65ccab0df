package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/attestads/internal/db"
)

const testCatalog = `
[[creatives]]
creative_instance_id = "ci-software"
creative_set_id = "cs-software"
campaign_id = "c-1"
advertiser_id = "a-1"
format = "notification"
segment = "technology & computing-software"
priority = 1
title = "Software"

[[creatives]]
creative_instance_id = "ci-sports"
creative_set_id = "cs-sports"
campaign_id = "c-2"
advertiser_id = "a-2"
format = "notification"
segment = "sports"
priority = 1
title = "Sports"

[[creatives]]
creative_instance_id = "ci-ntp"
creative_set_id = "cs-ntp"
campaign_id = "c-3"
advertiser_id = "a-3"
format = "new_tab_page"
segment = "untargeted"
priority = 1
`

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestImportStoresCreatives(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ads.db")
	out, err := execute(t, "import", writeCatalog(t), "--sqlite", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 3 creatives")

	sqlite, err := db.InitSQLite(dbPath, 1, 1, time.Minute)
	require.NoError(t, err)
	defer sqlite.Close()
	ads, err := sqlite.LoadCreativeAds(context.Background())
	require.NoError(t, err)
	assert.Len(t, ads, 3)
}

func TestImportMissingCatalog(t *testing.T) {
	_, err := execute(t, "import", filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestScoreRanksMatchingSegmentFirst(t *testing.T) {
	out, err := execute(t, "score", "--catalog", writeCatalog(t),
		"--format", "notification", "--intent", "technology & computing-software")
	require.NoError(t, err)

	var result []scoredCreative
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result, 2)
	assert.Equal(t, "ci-software", result[0].CreativeInstanceID)
	assert.Greater(t, result[0].Score, result[1].Score)
}

func TestScoreUnknownFormat(t *testing.T) {
	_, err := execute(t, "score", "--catalog", writeCatalog(t), "--format", "banner")
	assert.ErrorContains(t, err, "unknown ad format")
}

func TestScoreRequiresCatalog(t *testing.T) {
	_, err := execute(t, "score")
	assert.Error(t, err)
}

func TestEventsRequiresDSN(t *testing.T) {
	t.Setenv("CLICKHOUSE_DSN", "")
	_, err := execute(t, "events", "placement-1")
	assert.ErrorContains(t, err, "no ClickHouse DSN")
}
