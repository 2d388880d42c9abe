package merge

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/mergeforge/resolve/internal/strategy"
)

// yamlConfig mirrors Config's shape using plain types so it can be decoded
// by gopkg.in/yaml.v3 without custom unmarshalers on the public structs.
type yamlConfig struct {
	DefaultStrategy string `yaml:"defaultStrategy"`
	FieldStrategies []struct {
		Path     string         `yaml:"path"`
		Strategy string         `yaml:"strategy"`
		Options  map[string]any `yaml:"options,omitempty"`
	} `yaml:"fieldStrategies"`
	TrackProvenance    bool   `yaml:"trackProvenance"`
	ConflictResolution string `yaml:"conflictResolution"`
}

// LoadConfig decodes a merge.Config from YAML, e.g.:
//
//	defaultStrategy: preferNonNull
//	trackProvenance: true
//	conflictResolution: markConflict
//	fieldStrategies:
//	  - path: price
//	    strategy: min
//	  - path: notes
//	    strategy: concatenate
//	    options:
//	      separator: "; "
func LoadConfig(r io.Reader) (Config, error) {
	var y yamlConfig
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&y); err != nil {
		return Config{}, fmt.Errorf("merge: decode yaml config: %w", err)
	}

	cfg := Config{
		DefaultStrategy:    y.DefaultStrategy,
		TrackProvenance:    y.TrackProvenance,
		ConflictResolution: ConflictResolution(y.ConflictResolution),
	}
	for _, fs := range y.FieldStrategies {
		cfg.FieldStrategies = append(cfg.FieldStrategies, FieldStrategy{
			Path:     fs.Path,
			Strategy: fs.Strategy,
			Options:  applyYAMLStrategyOptions(fs.Options),
		})
	}
	return cfg, nil
}

func applyYAMLStrategyOptions(raw map[string]any) strategy.Options {
	var opts strategy.Options
	for k, v := range raw {
		switch k {
		case "separator":
			if s, ok := v.(string); ok {
				opts.Separator = s
			}
		case "dateField":
			if s, ok := v.(string); ok {
				opts.DateField = s
			}
		case "nullHandling":
			if s, ok := v.(string); ok {
				opts.NullHandling = s
			}
		}
	}
	return opts
}
