package apply

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stratus/internal/check"
	"stratus/internal/driver"
	"stratus/internal/manifest"
	"stratus/internal/plan"
	"stratus/internal/state"
)

// Executor runs plans against one driver and one state store.
//
// The Events channel is optional and never closed by the executor.
type Executor struct {
	Driver driver.Driver
	Store  *state.Store
	Events chan<- ProgressEvent
	Tracer trace.Tracer
}

// Apply executes an apply plan for m.
func (e *Executor) Apply(ctx context.Context, m *manifest.Manifest, p plan.Plan) (Result, error) {
	return e.run(ctx, m, p)
}

// Destroy executes a destroy plan. No manifest is needed; every entry
// carries its recorded spec.
func (e *Executor) Destroy(ctx context.Context, p plan.Plan) (Result, error) {
	return e.run(ctx, nil, p)
}

func (e *Executor) run(ctx context.Context, m *manifest.Manifest, p plan.Plan) (result Result, retErr error) {
	check.Assert(e.Driver != nil, "apply: driver must not be nil")
	check.Assert(e.Store != nil, "apply: state store must not be nil")

	result = Result{
		Manifest: p.Manifest,
		PlanID:   p.ID,
		RunID:    state.NewRunID(),
		Tiers:    make([]TierResult, 0, len(p.Tiers)),
	}

	tracer := e.Tracer
	if tracer == nil {
		tracer = otel.Tracer("stratus/apply")
	}
	ctx, span := tracer.Start(ctx, p.Op,
		trace.WithAttributes(
			attribute.String("stratus.manifest", p.Manifest),
			attribute.String("stratus.plan_id", p.ID),
			attribute.String("stratus.run_id", result.RunID),
		))
	defer func() {
		if retErr != nil {
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	if err := e.preFlight(ctx, m, p, result.RunID); err != nil {
		return result, fmt.Errorf("run pre-flight: %w", err)
	}

	finalPhase := RunFailed
	defer func() {
		msg := ""
		if retErr != nil {
			msg = retErr.Error()
		}
		if err := e.Store.FinishRun(ctx, result.RunID, finalPhase, msg); err != nil {
			if retErr == nil {
				retErr = fmt.Errorf("run post-flight: %w", err)
				return
			}
			retErr = fmt.Errorf("%w; run post-flight: %v", retErr, err)
		}
	}()

	for tierIdx, tier := range p.Tiers {
		tierName := tierDisplayName(tier, tierIdx)
		if err := ctx.Err(); err != nil {
			retErr = decorateApplyError(err, ErrorPhaseExecute, p.Manifest, tierIdx, tierName)
			e.emit(ProgressEvent{Type: "run_failed", Tier: tierIdx, Message: retErr.Error()})
			return result, retErr
		}

		e.emit(ProgressEvent{Type: "tier_started", Tier: tierIdx, Message: tierName})
		tierCtx, tierSpan := tracer.Start(ctx, "tier "+tierName,
			trace.WithAttributes(attribute.Int("stratus.tier", tierIdx)))

		tierResult, err := e.executeTier(tierCtx, tier, tierIdx, tierName, p)
		if err == nil {
			err = e.assertPostcondition(tierCtx, tier, tierIdx, tierName, p, &tierResult)
		}
		if err != nil {
			tierSpan.SetStatus(codes.Error, err.Error())
			tierSpan.End()
			result.Tiers = append(result.Tiers, tierResult)
			retErr = decorateApplyError(err, ErrorPhaseExecute, p.Manifest, tierIdx, tierName)
			e.emit(ProgressEvent{Type: "run_failed", Tier: tierIdx, Message: retErr.Error()})
			return result, retErr
		}
		tierSpan.End()

		tierResult.Status = TierCompleted
		result.Tiers = append(result.Tiers, tierResult)
		e.emit(ProgressEvent{Type: "tier_complete", Tier: tierIdx, Message: tierName})
	}

	finalPhase = RunSucceeded
	e.emit(ProgressEvent{Type: "run_complete", Message: p.ID})
	return result, nil
}

// preFlight records the run and lets the driver resolve the manifest.
func (e *Executor) preFlight(ctx context.Context, m *manifest.Manifest, p plan.Plan, runID string) error {
	if err := e.Store.InsertRun(ctx, state.RunRow{
		ID:       runID,
		Manifest: p.Manifest,
		PlanID:   p.ID,
		Op:       p.Op,
		Phase:    RunInProgress,
	}); err != nil {
		return err
	}
	if err := e.Driver.Begin(ctx, m); err != nil {
		return fmt.Errorf("driver begin: %w", err)
	}
	return nil
}

type rollbackAction struct {
	description string
	run         func(context.Context) error
}

// executeTier applies one tier's entries in order. A failed entry rolls the
// tier's completed operations back in reverse before returning, so state
// never records work the backend half-finished.
func (e *Executor) executeTier(ctx context.Context, tier plan.Tier, tierIdx int, tierName string, p plan.Plan) (TierResult, error) {
	result := TierResult{Name: tierName, Status: TierFailed}
	rollbackActions := make([]rollbackAction, 0)

	fail := func(addr string, err error) (TierResult, error) {
		rbErr := e.rollbackTier(ctx, rollbackActions, tierIdx)
		msg := err.Error()
		if rbErr != nil {
			msg = msg + "; rollback: " + rbErr.Error()
		} else if len(rollbackActions) > 0 {
			result.Status = TierRolledBack
		}
		return result, &ApplyError{
			Manifest: p.Manifest,
			Phase:    ErrorPhaseExecute,
			Tier:     tierIdx,
			TierName: tierName,
			Address:  addr,
			Message:  msg,
		}
	}

	for _, entry := range tier.Entries {
		if err := ctx.Err(); err != nil {
			return fail(entry.Address, err)
		}

		switch entry.Action {
		case plan.NoOp:
			result.Resources = append(result.Resources, ResourceResult{
				Address:    entry.Address,
				Action:     entry.Action.String(),
				ProviderID: currentProviderID(entry),
			})
			e.emit(ProgressEvent{Type: "resource_unchanged", Tier: tierIdx, Address: entry.Address})

		case plan.Create:
			providerID, actions, err := e.createResource(ctx, entry)
			rollbackActions = append(rollbackActions, actions...)
			if err != nil {
				return fail(entry.Address, err)
			}
			result.Resources = append(result.Resources, ResourceResult{
				Address: entry.Address, Action: entry.Action.String(), ProviderID: providerID,
			})
			e.emit(ProgressEvent{Type: "resource_created", Tier: tierIdx, Address: entry.Address, Message: entry.Reason})

		case plan.Update:
			actions, err := e.updateResource(ctx, entry)
			rollbackActions = append(rollbackActions, actions...)
			if err != nil {
				return fail(entry.Address, err)
			}
			result.Resources = append(result.Resources, ResourceResult{
				Address: entry.Address, Action: entry.Action.String(), ProviderID: currentProviderID(entry),
			})
			e.emit(ProgressEvent{Type: "resource_updated", Tier: tierIdx, Address: entry.Address, Message: entry.Reason})

		case plan.Replace:
			providerID, actions, err := e.replaceResource(ctx, entry)
			rollbackActions = append(rollbackActions, actions...)
			if err != nil {
				return fail(entry.Address, err)
			}
			result.Resources = append(result.Resources, ResourceResult{
				Address: entry.Address, Action: entry.Action.String(), ProviderID: providerID,
			})
			e.emit(ProgressEvent{Type: "resource_replaced", Tier: tierIdx, Address: entry.Address, Message: entry.Reason})

		case plan.Delete:
			actions, err := e.deleteResource(ctx, entry)
			rollbackActions = append(rollbackActions, actions...)
			if err != nil {
				return fail(entry.Address, err)
			}
			result.Resources = append(result.Resources, ResourceResult{
				Address: entry.Address, Action: entry.Action.String(),
			})
			e.emit(ProgressEvent{Type: "resource_deleted", Tier: tierIdx, Address: entry.Address, Message: entry.Reason})

		default:
			return fail(entry.Address, fmt.Errorf("unknown plan action %v", entry.Action))
		}
	}

	return result, nil
}

func (e *Executor) createResource(ctx context.Context, entry plan.Entry) (string, []rollbackAction, error) {
	desired, err := desiredResource(entry)
	if err != nil {
		return "", nil, err
	}

	providerID, err := e.Driver.Create(ctx, desired)
	if err != nil {
		return "", nil, fmt.Errorf("create %s: %w", entry.Address, err)
	}

	actions := []rollbackAction{{
		description: "remove created " + entry.Address,
		run: func(ctx context.Context) error {
			if err := e.Driver.Delete(ctx, desired, providerID); err != nil {
				return fmt.Errorf("rollback delete %s: %w", entry.Address, err)
			}
			return e.Store.DeleteResource(ctx, entry.Address)
		},
	}}

	if err := e.upsertDesired(ctx, entry, desired, providerID, ""); err != nil {
		return providerID, actions, err
	}
	return providerID, actions, nil
}

func (e *Executor) updateResource(ctx context.Context, entry plan.Entry) ([]rollbackAction, error) {
	desired, err := desiredResource(entry)
	if err != nil {
		return nil, err
	}
	if entry.Current == nil {
		return nil, fmt.Errorf("update %s has no recorded state", entry.Address)
	}
	oldRow := *entry.Current
	oldResource, err := recordedResource(oldRow)
	if err != nil {
		return nil, err
	}

	if err := e.Driver.Update(ctx, desired, oldRow.ProviderID); err != nil {
		return nil, fmt.Errorf("update %s: %w", entry.Address, err)
	}

	actions := []rollbackAction{{
		description: "restore previous spec of " + entry.Address,
		run: func(ctx context.Context) error {
			if err := e.Driver.Update(ctx, oldResource, oldRow.ProviderID); err != nil {
				return fmt.Errorf("rollback update %s: %w", entry.Address, err)
			}
			return e.Store.UpsertResource(ctx, oldRow)
		},
	}}

	if err := e.upsertDesired(ctx, entry, desired, oldRow.ProviderID, oldRow.CreatedAt); err != nil {
		return actions, err
	}
	return actions, nil
}

func (e *Executor) replaceResource(ctx context.Context, entry plan.Entry) (string, []rollbackAction, error) {
	desired, err := desiredResource(entry)
	if err != nil {
		return "", nil, err
	}
	if entry.Current == nil {
		return "", nil, fmt.Errorf("replace %s has no recorded state", entry.Address)
	}
	oldRow := *entry.Current

	// A row whose recorded spec no longer decodes must still be replaceable,
	// since replace is exactly how such a row gets repaired. The desired spec
	// carries the same address fields, so the backend delete can fall back on
	// it; rollback cannot restore a spec it cannot decode, so the restore
	// action is skipped on that path.
	oldResource, decodeErr := recordedResource(oldRow)
	if decodeErr != nil {
		oldResource = manifest.Resource{Kind: entry.Kind, Name: entry.Name, Spec: desired.Spec}
	}

	var actions []rollbackAction

	if err := e.Driver.Delete(ctx, oldResource, oldRow.ProviderID); err != nil {
		return "", nil, fmt.Errorf("replace %s: delete old: %w", entry.Address, err)
	}
	if decodeErr == nil {
		actions = append(actions, rollbackAction{
			description: "restore replaced " + entry.Address,
			run: func(ctx context.Context) error {
				if _, err := e.Driver.Create(ctx, oldResource); err != nil {
					return fmt.Errorf("rollback recreate %s: %w", entry.Address, err)
				}
				return e.Store.UpsertResource(ctx, oldRow)
			},
		})
	}

	providerID, err := e.Driver.Create(ctx, desired)
	if err != nil {
		return "", actions, fmt.Errorf("replace %s: create new: %w", entry.Address, err)
	}
	actions = append(actions, rollbackAction{
		description: "remove replacement " + entry.Address,
		run: func(ctx context.Context) error {
			if err := e.Driver.Delete(ctx, desired, providerID); err != nil {
				return fmt.Errorf("rollback delete replacement %s: %w", entry.Address, err)
			}
			return e.Store.DeleteResource(ctx, entry.Address)
		},
	})

	if err := e.upsertDesired(ctx, entry, desired, providerID, oldRow.CreatedAt); err != nil {
		return providerID, actions, err
	}
	return providerID, actions, nil
}

func (e *Executor) deleteResource(ctx context.Context, entry plan.Entry) ([]rollbackAction, error) {
	if entry.Current == nil {
		return nil, fmt.Errorf("delete %s has no recorded state", entry.Address)
	}
	oldRow := *entry.Current
	oldResource, err := recordedResource(oldRow)
	if err != nil {
		return nil, err
	}

	if err := e.Driver.Delete(ctx, oldResource, oldRow.ProviderID); err != nil {
		return nil, fmt.Errorf("delete %s: %w", entry.Address, err)
	}

	actions := []rollbackAction{{
		description: "restore deleted " + entry.Address,
		run: func(ctx context.Context) error {
			if _, err := e.Driver.Create(ctx, oldResource); err != nil {
				return fmt.Errorf("rollback recreate %s: %w", entry.Address, err)
			}
			return e.Store.UpsertResource(ctx, oldRow)
		},
	}}

	if err := e.Store.DeleteResource(ctx, entry.Address); err != nil {
		return actions, err
	}
	return actions, nil
}

func (e *Executor) rollbackTier(ctx context.Context, actions []rollbackAction, tierIdx int) error {
	if len(actions) == 0 {
		return nil
	}
	e.emit(ProgressEvent{Type: "rollback_started", Tier: tierIdx})

	var firstErr error
	for i := len(actions) - 1; i >= 0; i-- {
		if err := actions[i].run(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", actions[i].description, err)
		}
	}
	return firstErr
}

// assertPostcondition reads every surviving resource of the tier back from
// the driver and fails if any is missing. Drift this early means the backend
// rejected or lost an operation it reported as successful.
func (e *Executor) assertPostcondition(ctx context.Context, tier plan.Tier, tierIdx int, tierName string, p plan.Plan, result *TierResult) error {
	for i := range result.Resources {
		rr := &result.Resources[i]
		if rr.Action == plan.Delete.String() {
			rr.Verified = true
			continue
		}
		entry, ok := findEntry(tier, rr.Address)
		if !ok {
			continue
		}
		desired, err := desiredResource(entry)
		if err != nil {
			return err
		}

		obs, err := e.Driver.Read(ctx, desired)
		if err != nil {
			return &ApplyError{
				Manifest: p.Manifest, Phase: ErrorPhasePostcondition,
				Tier: tierIdx, TierName: tierName, Address: rr.Address,
				Message: fmt.Sprintf("read back: %v", err),
			}
		}
		if !obs.Exists {
			result.Status = TierFailed
			return &ApplyError{
				Manifest: p.Manifest, Phase: ErrorPhasePostcondition,
				Tier: tierIdx, TierName: tierName, Address: rr.Address,
				Message: "resource missing after apply",
			}
		}
		rr.Verified = true
		if rr.ProviderID == "" {
			rr.ProviderID = obs.ProviderID
		}
	}
	return nil
}

func (e *Executor) upsertDesired(ctx context.Context, entry plan.Entry, desired manifest.Resource, providerID, createdAt string) error {
	specJSON, err := manifest.MarshalSpec(desired.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec for %s: %w", entry.Address, err)
	}
	return e.Store.UpsertResource(ctx, state.ResourceRow{
		Address:    entry.Address,
		Kind:       string(entry.Kind),
		Name:       entry.Name,
		SpecJSON:   specJSON,
		ProviderID: providerID,
		Status:     "ready",
		CreatedAt:  createdAt,
	})
}

// emit sends a progress event if the channel is set.
// The send is non-blocking; events are dropped if the channel is full.
func (e *Executor) emit(ev ProgressEvent) {
	if e.Events == nil {
		return
	}
	select {
	case e.Events <- ev:
	default:
	}
}

func desiredResource(entry plan.Entry) (manifest.Resource, error) {
	if entry.Desired == nil {
		if entry.Current == nil {
			return manifest.Resource{}, fmt.Errorf("entry %s has neither desired nor recorded spec", entry.Address)
		}
		return recordedResource(*entry.Current)
	}
	return manifest.Resource{Kind: entry.Kind, Name: entry.Name, Spec: *entry.Desired}, nil
}

func recordedResource(row state.ResourceRow) (manifest.Resource, error) {
	spec, err := manifest.UnmarshalSpec(row.SpecJSON)
	if err != nil {
		return manifest.Resource{}, fmt.Errorf("decode recorded spec for %s: %w", row.Address, err)
	}
	return manifest.Resource{Kind: manifest.Kind(row.Kind), Name: row.Name, Spec: spec}, nil
}

func currentProviderID(entry plan.Entry) string {
	if entry.Current == nil {
		return ""
	}
	return entry.Current.ProviderID
}

func findEntry(tier plan.Tier, address string) (plan.Entry, bool) {
	for _, entry := range tier.Entries {
		if entry.Address == address {
			return entry, true
		}
	}
	return plan.Entry{}, false
}

func decorateApplyError(err error, phase ErrorPhase, manifestName string, tier int, tierName string) error {
	var ae *ApplyError
	if errors.As(err, &ae) {
		out := *ae
		if out.Manifest == "" {
			out.Manifest = manifestName
		}
		if !out.Phase.IsValid() {
			out.Phase = phase
		}
		if out.TierName == "" {
			out.Tier = tier
			out.TierName = tierName
		}
		return &out
	}
	return &ApplyError{
		Manifest: manifestName,
		Phase:    phase,
		Tier:     tier,
		TierName: tierName,
		Message:  err.Error(),
	}
}

func tierDisplayName(tier plan.Tier, tierIdx int) string {
	if len(tier.Entries) == 0 {
		return fmt.Sprintf("tier-%d", tierIdx)
	}
	names := make([]string, 0, len(tier.Entries))
	for _, entry := range tier.Entries {
		names = append(names, entry.Address)
	}
	return strings.Join(names, ",")
}
