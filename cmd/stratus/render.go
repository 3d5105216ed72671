package main

import (
	"fmt"
	"strings"
	"sync"

	"stratus/cmd/stratus/cmdutil"
	"stratus/cmd/stratus/ui"
	"stratus/internal/apply"
	"stratus/internal/manifest"
	"stratus/internal/plan"
)

// loadManifest parses the manifest at path, filling in the context's
// default location when the file omits one.
func loadManifest(path string, opts *cmdutil.Options) (*manifest.Manifest, error) {
	_, cctx, err := cmdutil.ResolveContext(*opts)
	if err != nil {
		return nil, err
	}
	return manifest.LoadFile(path, cctx.Location)
}

// renderPlan formats a plan for review: one line per change, tier by
// tier, followed by an action summary. Unchanged resources are collapsed
// into the summary line.
func renderPlan(p plan.Plan) string {
	var sb strings.Builder

	for i, tier := range p.Tiers {
		var lines []string
		for _, e := range tier.Entries {
			if e.Action == plan.NoOp {
				continue
			}
			line := fmt.Sprintf("  %s  %s", ui.Action(e.Action.String()), ui.Bold(e.Address))
			if e.Reason != "" {
				line += "  " + ui.Muted(e.Reason)
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			continue
		}
		sb.WriteString(ui.Muted(fmt.Sprintf("Tier %d", i+1)) + "\n")
		for _, line := range lines {
			sb.WriteString(line + "\n")
		}
	}

	s := p.Summarize()
	sb.WriteString(fmt.Sprintf("\nPlan %s: %s to create, %s to update, %s to replace, %s to delete",
		ui.Muted(p.ID),
		ui.Success(fmt.Sprintf("%d", s.Create)),
		ui.ChangeStyle.Render(fmt.Sprintf("%d", s.Update)),
		ui.Warn(fmt.Sprintf("%d", s.Replace)),
		ui.ErrorStyle.Render(fmt.Sprintf("%d", s.Delete))))
	if s.NoOp > 0 {
		sb.WriteString(ui.Muted(fmt.Sprintf(" (%d unchanged)", s.NoOp)))
	}
	sb.WriteString("\n")
	return sb.String()
}

// watchProgress prints executor events as they arrive. Call the returned
// stop function after the run finishes to drain and stop printing.
func watchProgress(events chan apply.ProgressEvent) (stop func()) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			switch ev.Type {
			case "tier_started":
				fmt.Println(ui.InfoMsg("Tier %d: %s", ev.Tier+1, ev.Message))
			case "resource_created":
				fmt.Println(ui.SuccessMsg("created %s", ev.Address))
			case "resource_updated":
				fmt.Println(ui.SuccessMsg("updated %s", ev.Address))
			case "resource_replaced":
				fmt.Println(ui.SuccessMsg("replaced %s", ev.Address))
			case "resource_deleted":
				fmt.Println(ui.SuccessMsg("deleted %s", ev.Address))
			case "rollback_started":
				fmt.Println(ui.WarnMsg("rolling back tier %d", ev.Tier+1))
			case "run_failed":
				fmt.Println(ui.ErrorMsg("%s", ev.Message))
			}
		}
	}()
	return func() {
		close(events)
		wg.Wait()
	}
}

// renderResult prints the per-tier outcome of a finished run.
func renderResult(result apply.Result) {
	for _, tier := range result.Tiers {
		for _, res := range tier.Resources {
			if res.Action == plan.NoOp.String() {
				continue
			}
			status := ui.Success("ok")
			if !res.Verified && res.Action != plan.Delete.String() {
				status = ui.Warn("unverified")
			}
			fmt.Printf("  %-9s %-40s %s\n", res.Action, res.Address, status)
		}
	}
}
