// Package intelligence holds the decision logic layered over the memory
// store: FSRS retrievability, the five-state tier classifier, the
// prediction-error write gate and importance evaluation.
package intelligence

import "strings"

// State is the freshness tier of a memory, recomputed on demand.
type State string

const (
	StateHot      State = "HOT"
	StateWarm     State = "WARM"
	StateCold     State = "COLD"
	StateDormant  State = "DORMANT"
	StateArchived State = "ARCHIVED"
)

// States lists every state in priority order.
var States = []State{StateHot, StateWarm, StateCold, StateDormant, StateArchived}

// ParseState returns the state named s, case-insensitively.
func ParseState(s string) (State, bool) {
	for _, st := range States {
		if strings.EqualFold(string(st), s) {
			return st, true
		}
	}
	return "", false
}

// Grade is a review outcome.
type Grade int

const (
	GradeAgain Grade = 1
	GradeHard  Grade = 2
	GradeGood  Grade = 3
	GradeEasy  Grade = 4
)

// Clamp pulls an out-of-range grade into [GradeAgain, GradeEasy].
func (g Grade) Clamp() Grade {
	if g < GradeAgain {
		return GradeAgain
	}
	if g > GradeEasy {
		return GradeEasy
	}
	return g
}

func (g Grade) String() string {
	switch g.Clamp() {
	case GradeAgain:
		return "again"
	case GradeHard:
		return "hard"
	case GradeEasy:
		return "easy"
	default:
		return "good"
	}
}

// Action is the write-gate decision for new content.
type Action string

const (
	ActionCreate       Action = "CREATE"
	ActionCreateLinked Action = "CREATE_LINKED"
	ActionUpdate       Action = "UPDATE"
	ActionReinforce    Action = "REINFORCE"
	ActionSupersede    Action = "SUPERSEDE"
)

// ActionPriority orders actions for review surfaces; lower sorts first.
func ActionPriority(a Action) int {
	switch a {
	case ActionSupersede:
		return 1
	case ActionUpdate:
		return 2
	case ActionCreateLinked:
		return 3
	case ActionCreate:
		return 4
	case ActionReinforce:
		return 5
	default:
		return 99
	}
}
