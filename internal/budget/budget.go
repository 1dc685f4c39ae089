// Package budget enforces resource ceilings on a search run: oracle spend
// in dollars, token volume, and wall-clock time. Limits are optional; a nil
// field means unlimited.
package budget

import "fmt"

// Config defines the ceilings for one run.
type Config struct {
	MaxCost        *float64
	MaxTokens      *int64
	MaxTimeSeconds *int64
}

// Validate ensures the ceilings are sane before use.
func (c Config) Validate() error {
	if c.MaxCost != nil && *c.MaxCost < 0 {
		return fmt.Errorf("max_cost cannot be negative")
	}
	if c.MaxTokens != nil && *c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}
	if c.MaxTimeSeconds != nil && *c.MaxTimeSeconds < 0 {
		return fmt.Errorf("max_time_seconds cannot be negative")
	}
	return nil
}

// Clone produces a deep copy of the config.
func (c Config) Clone() Config {
	var clone Config
	if c.MaxCost != nil {
		v := *c.MaxCost
		clone.MaxCost = &v
	}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		clone.MaxTokens = &v
	}
	if c.MaxTimeSeconds != nil {
		v := *c.MaxTimeSeconds
		clone.MaxTimeSeconds = &v
	}
	return clone
}

// Merge overlays non-nil values from override onto base.
func Merge(base Config, override Config) Config {
	result := base.Clone()
	if override.MaxCost != nil {
		v := *override.MaxCost
		result.MaxCost = &v
	}
	if override.MaxTokens != nil {
		v := *override.MaxTokens
		result.MaxTokens = &v
	}
	if override.MaxTimeSeconds != nil {
		v := *override.MaxTimeSeconds
		result.MaxTimeSeconds = &v
	}
	return result
}

// IsZero reports whether the config defines no limits at all.
func (c Config) IsZero() bool {
	return c.MaxCost == nil && c.MaxTokens == nil && c.MaxTimeSeconds == nil
}
