package grouping

import (
	"github.com/lotas/tabgruppen/internal/naming"
	"github.com/lotas/tabgruppen/internal/types"
)

// State is the lifecycle stage of a Placement.
type State int

const (
	AwaitingLoad State = iota
	Placing
	AwaitingName
	Placed
	Abandoned
)

func (s State) String() string {
	switch s {
	case AwaitingLoad:
		return "awaiting-load"
	case Placing:
		return "placing"
	case AwaitingName:
		return "awaiting-name"
	case Placed:
		return "placed"
	case Abandoned:
		return "abandoned"
	}
	return "unknown"
}

// Placement tracks one newly created tab from creation until it has been
// put into a group, or until it or its opener closes.
type Placement struct {
	TabID    int
	OpenerID int
	Rule     types.DomainRule
	Name     naming.Resolution
	State    State

	// Set once the tab has been placed.
	GroupID  int
	Moved    []int // tabs this placement moved into GroupID
	PromptID string
}

// transition moves p from one state to another. It reports false, and
// leaves p untouched, when p is not in from.
func (p *Placement) transition(from, to State) bool {
	if p.State != from {
		return false
	}
	p.State = to
	return true
}

func (p *Placement) terminal() bool {
	return p.State == Placed || p.State == Abandoned
}
