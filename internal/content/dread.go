// Package content generates dialogue trees and quest chains from the
// resolved world: the second oracle-driven stage, sharing the analysis
// stage's cache, token-budget, and retry discipline.
package content

import (
	"errors"
	"fmt"
)

// Complexity classifies a quest's moral texture.
type Complexity int

const (
	// Simple quests have a clear right and wrong.
	Simple Complexity = iota
	// Nuanced quests carry trade-offs.
	Nuanced
	// Ambiguous quests offer no good choice.
	Ambiguous
	// Devastating quests harm someone whatever is chosen.
	Devastating
)

var complexityNames = [...]string{"simple", "nuanced", "ambiguous", "devastating"}

func (c Complexity) String() string {
	if c < Simple || c > Devastating {
		return fmt.Sprintf("complexity(%d)", int(c))
	}
	return complexityNames[c]
}

// ParseComplexity converts a name back to a Complexity.
func ParseComplexity(s string) (Complexity, error) {
	for i, n := range complexityNames {
		if n == s {
			return Complexity(i), nil
		}
	}
	return 0, fmt.Errorf("content: unknown complexity %q", s)
}

// ErrInvalidComplexityForDread is returned when a request asks for a moral
// complexity outside the dread level's permitted range. The check runs before
// any oracle call; no artifact is written.
var ErrInvalidComplexityForDread = errors.New("content: complexity not permitted at this dread level")

// MaxDread is the highest dread level.
const MaxDread = 4

// MaxComplexityForDread returns the upper bound of the moral complexity
// ladder at the given dread level.
func MaxComplexityForDread(dread int) Complexity {
	switch {
	case dread <= 0:
		return Simple
	case dread <= 2:
		return Nuanced
	case dread == 3:
		return Ambiguous
	default:
		return Devastating
	}
}

// CheckComplexity validates a request's complexity against its dread level.
func CheckComplexity(dread int, c Complexity) error {
	if dread < 0 || dread > MaxDread {
		return fmt.Errorf("content: dread level %d out of range 0..%d", dread, MaxDread)
	}
	if c < Simple || c > Devastating {
		return fmt.Errorf("content: complexity %d out of range", int(c))
	}
	if c > MaxComplexityForDread(dread) {
		return fmt.Errorf("%w: %s at dread %d (max %s)",
			ErrInvalidComplexityForDread, c, dread, MaxComplexityForDread(dread))
	}
	return nil
}
