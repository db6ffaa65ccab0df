package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/patrickwarner/attestads/internal/models"
)

// Catalog is the optional TOML file describing chat models, predictor
// weight overrides and seed creatives.
type Catalog struct {
	Models    []models.ChatModel  `toml:"models"`
	Weights   map[string]string   `toml:"predictor_weights"`
	Creatives []models.CreativeAd `toml:"creatives"`
}

// LoadCatalog reads and validates the catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalog TOML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := toml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &cat, nil
}

// Validate checks identifiers and formats.
func (c *Catalog) Validate() error {
	for i, m := range c.Models {
		if m.Key == "" {
			return fmt.Errorf("models[%d]: key is required", i)
		}
		if m.IsNEAR && m.Name == "" {
			return fmt.Errorf("models[%d]: name is required for NEAR models", i)
		}
	}
	for format := range c.Weights {
		if _, ok := models.ParseAdFormat(format); !ok {
			return fmt.Errorf("predictor_weights: unknown ad format %q", format)
		}
	}
	for i, ad := range c.Creatives {
		if ad.CreativeInstanceID == "" {
			return fmt.Errorf("creatives[%d]: creative_instance_id is required", i)
		}
		if _, ok := models.ParseAdFormat(string(ad.Format)); !ok {
			return fmt.Errorf("creatives[%d]: unknown format %q", i, ad.Format)
		}
	}
	return nil
}

// ApplyWeights overlays catalog weight strings onto cfg. Environment values
// take precedence.
func (c *Catalog) ApplyWeights(cfg *Config) {
	if c == nil {
		return
	}
	set := func(dst *string, format models.AdFormat) {
		if *dst == "" {
			*dst = c.Weights[string(format)]
		}
	}
	set(&cfg.NotificationAdPredictorWeights, models.AdFormatNotification)
	set(&cfg.InlineContentAdPredictorWeights, models.AdFormatInlineContent)
	set(&cfg.NewTabPageAdPredictorWeights, models.AdFormatNewTabPage)
}
