package search

import "fmt"

// Default search parameters. These mirror the values the exploration loop
// was tuned with; all of them can be overridden per problem or per run.
const (
	DefaultIterations       = 100
	DefaultExplorationC     = 1.414
	DefaultMaxChildren      = 5
	DefaultMaxDepth         = 5
	DefaultQualityThreshold = 0.87
	DefaultSnapshotEvery    = 1
	DefaultMaxFailures      = 5
)

// Config holds the knobs of one search run.
type Config struct {
	// Iterations is the total budget of completed iterations, including
	// any restored from a snapshot on resume.
	Iterations int

	// ExplorationC weights the exploration term of the upper confidence
	// bound during selection.
	ExplorationC float64

	// MaxChildren caps how many children any node may have.
	MaxChildren int

	// MaxDepth caps the tree depth; nodes created at the cap are terminal.
	MaxDepth int

	// QualityThreshold marks a node terminal when its aggregate score
	// reaches it at evaluation time.
	QualityThreshold float64

	// SnapshotEvery saves a checkpoint every N completed iterations.
	// Negative disables periodic checkpoints (a final one is still
	// written); zero selects the default cadence.
	SnapshotEvery int

	// MaxConsecutiveFailures aborts the run after this many oracle
	// failures in a row with no completed iteration in between.
	MaxConsecutiveFailures int

	// Workers is the number of concurrent selection pipelines. One worker
	// reproduces the strictly sequential model.
	Workers int

	// DirectivePolicy selects directives for expansion: "random" or
	// "round_robin".
	DirectivePolicy string

	// Seed feeds the directive picker's randomness. Zero means seed from
	// the clock.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.Iterations <= 0 {
		c.Iterations = DefaultIterations
	}
	if c.ExplorationC <= 0 {
		c.ExplorationC = DefaultExplorationC
	}
	if c.MaxChildren <= 0 {
		c.MaxChildren = DefaultMaxChildren
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.QualityThreshold == 0 {
		c.QualityThreshold = DefaultQualityThreshold
	}
	if c.SnapshotEvery == 0 {
		c.SnapshotEvery = DefaultSnapshotEvery
	} else if c.SnapshotEvery < 0 {
		c.SnapshotEvery = 0
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = DefaultMaxFailures
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.DirectivePolicy == "" {
		c.DirectivePolicy = "random"
	}
	return c
}

// Validate rejects configurations the controller cannot run with.
func (c Config) Validate() error {
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("quality threshold %.3f outside [0,1]", c.QualityThreshold)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("max depth must be at least 1, got %d", c.MaxDepth)
	}
	if c.MaxChildren < 1 {
		return fmt.Errorf("max children must be at least 1, got %d", c.MaxChildren)
	}
	switch c.DirectivePolicy {
	case "random", "round_robin":
	default:
		return fmt.Errorf("unknown directive policy %q", c.DirectivePolicy)
	}
	return nil
}
