package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/patrickwarner/attestads/internal/analytics"
	"github.com/patrickwarner/attestads/internal/config"
	"github.com/patrickwarner/attestads/internal/db"
	"github.com/patrickwarner/attestads/internal/logic/predictor"
	"github.com/patrickwarner/attestads/internal/logic/selectors"
	"github.com/patrickwarner/attestads/internal/models"
	"github.com/patrickwarner/attestads/internal/observability"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "adsctl",
		Short:         "Manage creatives and inspect ad and verification data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newImportCmd(), newScoreCmd(), newEventsCmd(), newVerificationsCmd())
	return root
}

func newImportCmd() *cobra.Command {
	var sqlitePath string
	cmd := &cobra.Command{
		Use:   "import <catalog.toml>",
		Short: "Store the creatives of a catalog in SQLite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := config.LoadCatalog(args[0])
			if err != nil {
				return err
			}
			cfg := config.Load()
			if sqlitePath == "" {
				sqlitePath = cfg.SQLitePath
			}
			sqlite, err := db.InitSQLite(sqlitePath, 1, 1, cfg.DBConnMaxLifetime)
			if err != nil {
				return err
			}
			defer sqlite.Close()

			if err := sqlite.SaveCreativeAds(cmd.Context(), cat.Creatives); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d creatives into %s\n", len(cat.Creatives), sqlitePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "SQLite database path (defaults to SQLITE_PATH)")
	return cmd
}

type scoreOptions struct {
	catalogPath string
	format      string
	intent      []string
	latent      []string
	interest    []string
	country     string
	platform    string
}

type scoredCreative struct {
	CreativeInstanceID string  `json:"creative_instance_id"`
	CreativeSetID      string  `json:"creative_set_id"`
	Segment            string  `json:"segment"`
	Score              float64 `json:"score"`
}

func newScoreCmd() *cobra.Command {
	var opts scoreOptions
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score the catalog's creatives for a user without any ad history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.catalogPath, "catalog", "", "catalog TOML file")
	f.StringVar(&opts.format, "format", string(models.AdFormatNotification), "ad format")
	f.StringSliceVar(&opts.intent, "intent", nil, "intent segments")
	f.StringSliceVar(&opts.latent, "latent", nil, "latent interest segments")
	f.StringSliceVar(&opts.interest, "interest", nil, "interest segments")
	f.StringVar(&opts.country, "country", "", "ISO country code")
	f.StringVar(&opts.platform, "platform", "desktop", "platform")
	_ = cmd.MarkFlagRequired("catalog")
	return cmd
}

func runScore(ctx context.Context, out io.Writer, opts scoreOptions) error {
	format, ok := models.ParseAdFormat(opts.format)
	if !ok {
		return fmt.Errorf("unknown ad format %q", opts.format)
	}
	cat, err := config.LoadCatalog(opts.catalogPath)
	if err != nil {
		return err
	}
	cfg := config.Load()
	cat.ApplyWeights(&cfg)

	dataStore := models.NewInMemoryAdDataStore()
	if err := dataStore.ReloadAll(cat.Creatives); err != nil {
		return err
	}
	logger := zap.NewNop()
	// no Redis store: hourly caps are not evaluated offline
	selector := selectors.NewPredictorSelector(nil, dataStore,
		predictor.WeightsFromConfig(cfg, logger), predictor.TermsFromConfig(cfg),
		observability.NewNoOpRegistry(), logger)

	ads, scores, err := selector.Candidates(ctx, selectors.Request{
		Format: format,
		User: models.UserModel{
			IntentSegments:         opts.intent,
			LatentInterestSegments: opts.latent,
			InterestSegments:       opts.interest,
		},
		Targeting: models.TargetingContext{
			Country:  opts.country,
			Platform: opts.platform,
			Now:      time.Now(),
		},
	})
	if err != nil {
		return err
	}

	result := make([]scoredCreative, 0, len(ads))
	for i, ad := range ads {
		result = append(result, scoredCreative{
			CreativeInstanceID: ad.CreativeInstanceID,
			CreativeSetID:      ad.CreativeSetID,
			Segment:            ad.Segment,
			Score:              scores[i],
		})
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Score > result[j].Score })
	return encode(out, result)
}

func newEventsCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "events <placement-id>",
		Short: "Print the analytics events recorded for a placement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAnalytics(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer a.Close()
			events, err := a.GetAdEventsByPlacement(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("query events: %w", err)
			}
			return encode(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "ClickHouse DSN (defaults to CLICKHOUSE_DSN)")
	return cmd
}

func newVerificationsCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "verifications <turn-id>",
		Short: "Print the attestation verdicts recorded for a conversation turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAnalytics(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer a.Close()
			records, err := a.GetVerifications(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("query verifications: %w", err)
			}
			return encode(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "ClickHouse DSN (defaults to CLICKHOUSE_DSN)")
	return cmd
}

func openAnalytics(ctx context.Context, dsn string) (*analytics.Analytics, error) {
	if dsn == "" {
		dsn = config.Load().ClickHouseDSN
	}
	if dsn == "" {
		return nil, fmt.Errorf("no ClickHouse DSN: pass --dsn or set CLICKHOUSE_DSN")
	}
	return analytics.InitClickHouse(ctx, dsn, analytics.PoolConfig{
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	})
}

func encode(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
