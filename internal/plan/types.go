// Package plan computes the minimal set of operations to transition recorded
// state to a manifest's desired state, grouped into dependency tiers.
package plan

import (
	"fmt"

	"stratus/internal/manifest"
	"stratus/internal/state"
)

// Action is the operation a plan entry performs on its resource.
type Action int

const (
	NoOp Action = iota
	Create
	Update
	Replace
	Delete
)

func (a Action) String() string {
	switch a {
	case NoOp:
		return "no-op"
	case Create:
		return "create"
	case Update:
		return "update"
	case Replace:
		return "replace"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Entry is one planned operation on one resource.
type Entry struct {
	Address string
	Kind    manifest.Kind
	Name    string
	Action  Action
	Reason  string

	// Desired is nil for Delete entries; Current is nil for Create entries.
	Desired *manifest.Spec
	Current *state.ResourceRow
}

// Tier groups entries whose dependencies are all satisfied by earlier tiers.
// Entries within a tier are applied sequentially in slice order.
type Tier struct {
	Entries []Entry
}

// Plan is the full ordered set of operations for one manifest.
type Plan struct {
	Manifest string
	ID       string
	Op       string
	Tiers    []Tier
}

// Summary counts entries by action.
type Summary struct {
	Create  int
	Update  int
	Replace int
	NoOp    int
	Delete  int
}

func (p Plan) Summarize() Summary {
	var s Summary
	for _, tier := range p.Tiers {
		for _, e := range tier.Entries {
			switch e.Action {
			case Create:
				s.Create++
			case Update:
				s.Update++
			case Replace:
				s.Replace++
			case Delete:
				s.Delete++
			default:
				s.NoOp++
			}
		}
	}
	return s
}

// HasChanges reports whether applying the plan would do anything.
func (p Plan) HasChanges() bool {
	s := p.Summarize()
	return s.Create+s.Update+s.Replace+s.Delete > 0
}
