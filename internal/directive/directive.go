// Package directive holds the creative directives that steer idea
// generation: named strategies, each with the instruction handed to the
// oracle and an explanation of what the strategy means.
package directive

import (
	"fmt"
	"math/rand"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Directive is one creative strategy.
type Directive struct {
	Name        string `yaml:"name" json:"name"`
	Instruction string `yaml:"instruction" json:"instruction"`
	Explanation string `yaml:"explanation" json:"explanation"`
}

// Set is an ordered collection of directives with unique names.
type Set struct {
	ordered []Directive
	byName  map[string]Directive
}

// NewSet builds a set from the given directives, rejecting empty sets,
// duplicate names, and directives with missing fields.
func NewSet(directives []Directive) (*Set, error) {
	if len(directives) == 0 {
		return nil, fmt.Errorf("directive set is empty")
	}
	s := &Set{byName: make(map[string]Directive, len(directives))}
	for i, d := range directives {
		if d.Name == "" || d.Instruction == "" {
			return nil, fmt.Errorf("directive %d: name and instruction are required", i)
		}
		if _, dup := s.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate directive %q", d.Name)
		}
		s.byName[d.Name] = d
		s.ordered = append(s.ordered, d)
	}
	return s, nil
}

// DefaultSet returns the built-in directives.
func DefaultSet() *Set {
	s, err := NewSet(defaultDirectives)
	if err != nil {
		panic(err) // built-in set is static
	}
	return s
}

// LoadFile reads a custom directive set from a YAML document of the form
// {directives: [{name, instruction, explanation}, ...]}.
func LoadFile(path string) (*Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading directives: %w", err)
	}
	var doc struct {
		Directives []Directive `yaml:"directives"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing directives: %w", err)
	}
	return NewSet(doc.Directives)
}

// Names returns the directive names in set order.
func (s *Set) Names() []string {
	out := make([]string, len(s.ordered))
	for i, d := range s.ordered {
		out[i] = d.Name
	}
	return out
}

// Get looks up a directive by name.
func (s *Set) Get(name string) (Directive, bool) {
	d, ok := s.byName[name]
	return d, ok
}

// All returns the directives in set order.
func (s *Set) All() []Directive {
	return append([]Directive(nil), s.ordered...)
}

// Len returns the number of directives in the set.
func (s *Set) Len() int { return len(s.ordered) }

// Unused filters the set down to directives whose names do not appear in
// used. When every directive has been used the full set is returned, so a
// caller can still expand past one-use-each coverage.
func (s *Set) Unused(used []string) []Directive {
	taken := make(map[string]bool, len(used))
	for _, u := range used {
		taken[u] = true
	}
	var out []Directive
	for _, d := range s.ordered {
		if !taken[d.Name] {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return s.All()
	}
	return out
}

// Picker chooses the next directive from a candidate list.
type Picker interface {
	Pick(candidates []Directive) Directive
}

// NewPicker returns a picker for the named policy: "random" or
// "round_robin".
func NewPicker(policy string, seed int64) (Picker, error) {
	switch policy {
	case "", "random":
		return &randomPicker{rng: rand.New(rand.NewSource(seed))}, nil
	case "round_robin":
		return &roundRobinPicker{}, nil
	default:
		return nil, fmt.Errorf("unknown directive policy %q", policy)
	}
}

type randomPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (p *randomPicker) Pick(candidates []Directive) Directive {
	p.mu.Lock()
	defer p.mu.Unlock()
	return candidates[p.rng.Intn(len(candidates))]
}

// roundRobinPicker cycles through candidates deterministically. The cursor
// advances by pick count, not by set position, so shrinking candidate lists
// still rotate.
type roundRobinPicker struct {
	mu    sync.Mutex
	picks int
}

func (p *roundRobinPicker) Pick(candidates []Directive) Directive {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := candidates[p.picks%len(candidates)]
	p.picks++
	return d
}

var defaultDirectives = []Directive{
	{
		Name:        "Conceptual Blend",
		Instruction: "Combine two seemingly unrelated concepts or domains.",
		Explanation: "Explore unexpected synergies between disparate ideas.",
	},
	{
		Name:        "Perspective Shift",
		Instruction: "Approach the problem from an entirely different point of view.",
		Explanation: "Reimagine the concept through an unexpected lens.",
	},
	{
		Name:        "Amplify Extremes",
		Instruction: "Take a key aspect of the idea and push it to its logical extreme.",
		Explanation: "Explore the boundaries of the concept by maximizing certain elements.",
	},
	{
		Name:        "Invert Assumptions",
		Instruction: "Challenge and reverse the core assumptions of the current approach.",
		Explanation: "Flip key aspects of the idea on their head.",
	},
	{
		Name:        "Temporal Dynamics",
		Instruction: "Consider how the idea might evolve or adapt over time.",
		Explanation: "Explore the concept's past, present, and future iterations.",
	},
	{
		Name:        "Synaptic Leap",
		Instruction: "Make an unexpected connection between disparate elements.",
		Explanation: "Bridge seemingly unrelated aspects of the problem or solution.",
	},
	{
		Name:        "Fractal Thinking",
		Instruction: "Apply the core concept at different scales simultaneously.",
		Explanation: "Consider how the idea manifests at micro and macro levels.",
	},
	{
		Name:        "Empathic Reimagining",
		Instruction: "Redesign the idea with deep empathy for a specific user or stakeholder.",
		Explanation: "Center the concept around the needs and experiences of others.",
	},
	{
		Name:        "Sensory Transmutation",
		Instruction: "Translate the concept into a different sensory modality.",
		Explanation: "Reimagine the idea through alternative sensory experiences.",
	},
	{
		Name:        "Quantum Superposition",
		Instruction: "Explore contradictory aspects of the idea simultaneously.",
		Explanation: "Embrace paradoxical elements within the concept.",
	},
	{
		Name:        "Ecosystem Integration",
		Instruction: "Consider how the idea fits into and influences a larger system.",
		Explanation: "Explore the ripple effects and interconnections of the concept.",
	},
	{
		Name:        "Narrative Reframing",
		Instruction: "Cast the concept as part of a compelling story or journey.",
		Explanation: "Embed the idea within a larger narrative or transformative arc.",
	},
	{
		Name:        "Adaptive Resilience",
		Instruction: "Explore how the idea could adapt to unexpected challenges.",
		Explanation: "Consider the concept's flexibility and responsiveness to change.",
	},
	{
		Name:        "Cross-Pollination",
		Instruction: "Infuse elements from a completely different field or discipline.",
		Explanation: "Introduce concepts from unrelated domains to spark new insights.",
	},
}
