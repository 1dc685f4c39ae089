// Package problem defines the per-run input document: the problem statement
// to brainstorm on, its constraints, and the criteria ideas are judged by.
package problem

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Criterion is one axis ideas are scored on, with the rubric text shown to
// the evaluation oracle.
type Criterion struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Overrides are per-problem search settings layered over the application
// defaults. Nil fields keep the default.
type Overrides struct {
	Iterations       *int     `yaml:"iterations"`
	ExplorationC     *float64 `yaml:"exploration_c"`
	MaxChildren      *int     `yaml:"max_children"`
	MaxDepth         *int     `yaml:"max_depth"`
	QualityThreshold *float64 `yaml:"quality_threshold"`
	SnapshotEvery    *int     `yaml:"snapshot_every"`
}

// Problem is a parsed problem definition.
type Problem struct {
	Title          string      `yaml:"title"`
	Statement      string      `yaml:"statement"`
	Constraints    []string    `yaml:"constraints"`
	Criteria       []Criterion `yaml:"criteria"`
	DirectivesFile string      `yaml:"directives_file"`
	Search         Overrides   `yaml:"search"`
}

// Load reads and validates a problem definition from a YAML file.
func Load(path string) (*Problem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading problem: %w", err)
	}
	var p Problem
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parsing problem: %w", err)
	}
	if len(p.Criteria) == 0 {
		p.Criteria = DefaultCriteria()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that the problem is usable.
func (p *Problem) Validate() error {
	if strings.TrimSpace(p.Statement) == "" {
		return fmt.Errorf("problem statement is required")
	}
	seen := make(map[string]bool, len(p.Criteria))
	for i, c := range p.Criteria {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("criterion %d: name is required", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate criterion %q", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// ConstraintsText renders the constraints as a bulleted block for prompts.
// Returns "(none)" when the problem has no constraints.
func (p *Problem) ConstraintsText() string {
	if len(p.Constraints) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, c := range p.Constraints {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// CriterionNames returns the criteria names in order.
func (p *Problem) CriterionNames() []string {
	out := make([]string, len(p.Criteria))
	for i, c := range p.Criteria {
		out[i] = c.Name
	}
	return out
}

// DefaultCriteria returns the built-in evaluation criteria.
func DefaultCriteria() []Criterion {
	return []Criterion{
		{Name: "Innovative", Description: "How innovative and compelling is the idea?"},
		{Name: "Usefulness", Description: "How useful is the idea?"},
		{Name: "Interestingness", Description: "How interesting or sticky would this experience be for a user?"},
		{Name: "Prototypability", Description: "Does this idea include a description of a prototype that is achievable with today's technology?"},
	}
}
