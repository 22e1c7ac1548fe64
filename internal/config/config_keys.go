// config_keys.go provides key-value access to configuration settings.
//
// Separated from config.go to isolate the key enumeration and string-based
// get/set logic. This separation allows config.go to focus on YAML structure
// and loading, while this file handles the CLI interface where config is
// accessed by string keys (e.g., "search.max_iterations").
//
// Design: Pointers are used for optional numeric fields so we can distinguish
// between "not set" (nil) and "explicitly set to zero". This enables proper
// defaulting - we only apply defaults when the user hasn't set a value.

package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ValidKeys returns all valid configuration keys.
func ValidKeys() []string {
	return []string{
		"ads.token",
		"cache.backend", "cache.location",
		"search.max_iterations", "search.synonym_files",
		"scoring.affil_weight", "scoring.detail_weight", "scoring.orcid_step",
		"server.address",
	}
}

// IsValidKey returns true if the key is a valid configuration key.
func IsValidKey(key string) bool {
	return slices.Contains(ValidKeys(), key)
}

// Get returns the value of a configuration key as a string.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "ads.token":
		return c.ADS.Token, nil
	case "cache.backend":
		return c.Backend(), nil
	case "cache.location":
		return c.CacheLocation(), nil
	case "search.max_iterations":
		return strconv.Itoa(c.MaxIterations()), nil
	case "search.synonym_files":
		return strings.Join(c.Search.SynonymFiles, ","), nil
	case "scoring.affil_weight":
		return strconv.FormatFloat(c.AffilWeight(), 'g', -1, 64), nil
	case "scoring.detail_weight":
		return strconv.FormatFloat(c.DetailWeight(), 'g', -1, 64), nil
	case "scoring.orcid_step":
		return strconv.FormatFloat(c.OrcidStep(), 'g', -1, 64), nil
	case "server.address":
		return c.Address(), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
}

// Set sets the value of a configuration key.
func (c *Config) Set(key, value string) error {
	switch key {
	case "ads.token":
		c.ADS.Token = value
	case "cache.backend":
		v := strings.ToLower(value)
		if v != BackendFS && v != BackendSQLite {
			return fmt.Errorf("%w: cache.backend must be %q or %q",
				ErrInvalidValue, BackendFS, BackendSQLite)
		}
		c.Cache.Backend = v
	case "cache.location":
		c.Cache.Location = value
	case "search.max_iterations":
		n, err := strconv.Atoi(value)
		if err != nil || n < MinMaxIterations || n > MaxMaxIterations {
			return fmt.Errorf("%w: search.max_iterations must be an integer between %d and %d",
				ErrInvalidValue, MinMaxIterations, MaxMaxIterations)
		}
		c.Search.MaxIterations = &n
	case "search.synonym_files":
		if value == "" {
			c.Search.SynonymFiles = nil
			break
		}
		c.Search.SynonymFiles = strings.Split(value, ",")
	case "scoring.affil_weight", "scoring.detail_weight", "scoring.orcid_step":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 || f > 1 {
			return fmt.Errorf("%w: %s must be a number between 0 and 1",
				ErrInvalidValue, key)
		}
		switch key {
		case "scoring.affil_weight":
			c.Scoring.AffilWeight = &f
		case "scoring.detail_weight":
			c.Scoring.DetailWeight = &f
		case "scoring.orcid_step":
			c.Scoring.OrcidStep = &f
		}
	case "server.address":
		c.Server.Address = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}

// All returns all configuration values as a map.
func (c *Config) All() map[string]string {
	return map[string]string{
		"ads.token":             c.ADS.Token,
		"cache.backend":         c.Backend(),
		"cache.location":        c.CacheLocation(),
		"search.max_iterations": strconv.Itoa(c.MaxIterations()),
		"search.synonym_files":  strings.Join(c.Search.SynonymFiles, ","),
		"scoring.affil_weight":  strconv.FormatFloat(c.AffilWeight(), 'g', -1, 64),
		"scoring.detail_weight": strconv.FormatFloat(c.DetailWeight(), 'g', -1, 64),
		"scoring.orcid_step":    strconv.FormatFloat(c.OrcidStep(), 'g', -1, 64),
		"server.address":        c.Address(),
	}
}

// IsSet returns true if the key has an explicit value (not just defaults).
func (c *Config) IsSet(key string) bool {
	switch key {
	case "ads.token":
		return c.ADS.Token != ""
	case "cache.backend":
		return c.Cache.Backend != ""
	case "cache.location":
		return c.Cache.Location != ""
	case "search.max_iterations":
		return c.Search.MaxIterations != nil
	case "search.synonym_files":
		return len(c.Search.SynonymFiles) > 0
	case "scoring.affil_weight":
		return c.Scoring.AffilWeight != nil
	case "scoring.detail_weight":
		return c.Scoring.DetailWeight != nil
	case "scoring.orcid_step":
		return c.Scoring.OrcidStep != nil
	case "server.address":
		return c.Server.Address != ""
	default:
		return false
	}
}
