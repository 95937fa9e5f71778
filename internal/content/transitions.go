package content

import "fmt"

// TransitionKind groups the narrative inflection points by function.
type TransitionKind string

const (
	// Establishing transitions introduce a bond, place, or threat.
	Establishing TransitionKind = "establishing"
	// Testing transitions put an established bond under strain.
	Testing TransitionKind = "testing"
	// Consequence transitions pay off earlier choices.
	Consequence TransitionKind = "consequence"
)

// Transition is one of the twelve named narrative inflection points. When a
// generation request names a transition, Invariant is injected into the
// prompt verbatim.
type Transition struct {
	Name      string
	Act       int
	Kind      TransitionKind
	Invariant string
}

// transitions lists all twelve scenarios: six establishing, four testing,
// two consequence, across three acts.
var transitions = []Transition{
	{"first_meeting", 1, Establishing, "The companion and the player meet for the first time; neither owes the other anything yet."},
	{"shared_shelter", 1, Establishing, "The pair shelters together from something outside; the scene establishes what safety costs here."},
	{"first_debt", 1, Establishing, "One party does the other an unprompted favor; the debt must be named, not implied."},
	{"naming_the_fear", 1, Establishing, "The companion names the thing they are afraid of; the player may not dismiss it."},
	{"threshold", 2, Establishing, "The pair crosses into territory neither knows; old rules are explicitly said not to apply."},
	{"witness", 2, Establishing, "The companion sees the player do something that cannot be taken back."},
	{"first_refusal", 2, Testing, "The companion refuses a direct request for the first time; the refusal must be survivable."},
	{"divided_loyalty", 2, Testing, "A third party claims the companion's loyalty; the companion does not resolve the claim this scene."},
	{"broken_promise", 3, Testing, "A promise made in act one is broken on screen; the breaking must reference the original wording."},
	{"the_ask", 3, Testing, "The companion asks the player for something that costs more than the player expected to pay."},
	{"reckoning", 3, Consequence, "The scene must reference a specific prior act-one choice by its consequences, not by name."},
	{"what_remains", 3, Consequence, "The final accounting: every flag still set from earlier scenes must be either paid off or explicitly abandoned."},
}

// Transitions returns all twelve transition scenarios in act order.
func Transitions() []Transition {
	out := make([]Transition, len(transitions))
	copy(out, transitions)
	return out
}

// TransitionByName looks up a transition scenario.
func TransitionByName(name string) (Transition, error) {
	for _, t := range transitions {
		if t.Name == name {
			return t, nil
		}
	}
	return Transition{}, fmt.Errorf("content: unknown transition %q", name)
}
