// Package apply executes plans tier by tier against a driver, recording
// every completed operation in the state store so interrupted runs resume
// cleanly.
package apply

import "fmt"

// Run phases recorded on the runs table.
const (
	RunInProgress = "in_progress"
	RunSucceeded  = "succeeded"
	RunFailed     = "failed"
)

// TierPhase is the terminal status of one executed tier.
type TierPhase uint8

const (
	TierPending TierPhase = iota
	TierCompleted
	TierFailed
	TierRolledBack
)

func (p TierPhase) String() string {
	switch p {
	case TierPending:
		return "pending"
	case TierCompleted:
		return "completed"
	case TierFailed:
		return "failed"
	case TierRolledBack:
		return "rolled-back"
	default:
		return fmt.Sprintf("tier-phase(%d)", uint8(p))
	}
}

// ErrorPhase locates where in a run a failure happened.
type ErrorPhase string

const (
	ErrorPhasePreFlight     ErrorPhase = "pre-flight"
	ErrorPhaseExecute       ErrorPhase = "execute"
	ErrorPhasePostcondition ErrorPhase = "postcondition"
	ErrorPhasePostFlight    ErrorPhase = "post-flight"
)

func (p ErrorPhase) IsValid() bool {
	switch p {
	case ErrorPhasePreFlight, ErrorPhaseExecute, ErrorPhasePostcondition, ErrorPhasePostFlight:
		return true
	}
	return false
}

// ApplyError carries structured context for run failures.
type ApplyError struct {
	Manifest string
	Phase    ErrorPhase
	Tier     int
	TierName string
	Address  string
	Message  string
}

func (e *ApplyError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Address != "" {
		return fmt.Sprintf("apply %q failed at %s (tier %d %q, resource %s): %s", e.Manifest, e.Phase, e.Tier, e.TierName, e.Address, e.Message)
	}
	return fmt.Sprintf("apply %q failed at %s (tier %d %q): %s", e.Manifest, e.Phase, e.Tier, e.TierName, e.Message)
}

// Result summarizes one executed run.
type Result struct {
	Manifest string
	PlanID   string
	RunID    string
	Tiers    []TierResult
}

// TierResult is the outcome of one tier.
type TierResult struct {
	Name      string
	Status    TierPhase
	Resources []ResourceResult
}

// ResourceResult is the outcome of one operation, including the tier
// postcondition's live verification.
type ResourceResult struct {
	Address    string
	Action     string
	ProviderID string
	Verified   bool
}

// ProgressEvent reports run progress. Events are sent with non-blocking
// writes and may be dropped if the receiver lags.
type ProgressEvent struct {
	Type    string
	Tier    int
	Address string
	Message string
}
