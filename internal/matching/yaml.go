package matching

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/mergeforge/resolve/internal/comparator"
)

// yamlConfig mirrors Config's shape using plain types so it can be decoded
// by gopkg.in/yaml.v3 without custom unmarshalers on the public structs.
type yamlConfig struct {
	Fields []struct {
		Path          string         `yaml:"path"`
		Strategy      string         `yaml:"strategy"`
		Weight        float64        `yaml:"weight"`
		Threshold     *float64       `yaml:"threshold,omitempty"`
		CaseSensitive bool           `yaml:"caseSensitive"`
		Options       map[string]any `yaml:"options,omitempty"`
	} `yaml:"fields"`
	Thresholds struct {
		NoMatch       float64 `yaml:"noMatch"`
		DefiniteMatch float64 `yaml:"definiteMatch"`
	} `yaml:"thresholds"`
}

// LoadConfig decodes a matching.Config from YAML, e.g.:
//
//	fields:
//	  - path: email
//	    strategy: exact
//	    weight: 50
//	  - path: name
//	    strategy: jaro-winkler
//	    weight: 100
//	    threshold: 0.85
//	thresholds:
//	  noMatch: 20
//	  definiteMatch: 80
func LoadConfig(r io.Reader) (Config, error) {
	var y yamlConfig
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&y); err != nil {
		return Config{}, fmt.Errorf("matching: decode yaml config: %w", err)
	}

	cfg := Config{
		Thresholds: Thresholds{
			NoMatch:       y.Thresholds.NoMatch,
			DefiniteMatch: y.Thresholds.DefiniteMatch,
		},
	}
	for _, f := range y.Fields {
		opts := comparator.DefaultOptions()
		opts.CaseSensitive = f.CaseSensitive
		applyYAMLOptions(&opts, f.Options)
		cfg.Fields = append(cfg.Fields, FieldConfig{
			Path:          f.Path,
			Strategy:      f.Strategy,
			Weight:        f.Weight,
			Threshold:     f.Threshold,
			CaseSensitive: f.CaseSensitive,
			Options:       opts,
		})
	}
	return cfg, nil
}

func applyYAMLOptions(opts *comparator.Options, raw map[string]any) {
	for k, v := range raw {
		switch k {
		case "nullMatchesNull":
			if b, ok := v.(bool); ok {
				opts.NullMatchesNull = b
			}
		case "prefixScale":
			if f, ok := asFloat(v); ok {
				opts.PrefixScale = f
			}
		case "maxPrefixLength":
			if f, ok := asFloat(v); ok {
				opts.MaxPrefixLength = int(f)
			}
		case "maxCodeLength":
			if f, ok := asFloat(v); ok {
				opts.MaxCodeLength = int(f)
			}
		case "collapseSpace":
			if b, ok := v.(bool); ok {
				opts.CollapseSpace = b
			}
		}
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}
