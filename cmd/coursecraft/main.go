// Command coursecraft runs curriculum workflows from the command line:
// start a new workflow for a learning goal, or resume a suspended one
// with a reviewer decision.
//
// Examples:
//
//	coursecraft -goal "learn Go concurrency" -learner alice
//	coursecraft -resume 3f2a... -approve -reviewer mentor
//	coursecraft -resume 3f2a... -reject -feedback "add a capstone project"
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/coursecraft/coursecraft"
	"github.com/coursecraft/coursecraft/agents"
	"github.com/coursecraft/coursecraft/types"
	"github.com/coursecraft/coursecraft/workflow"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		requestPath = flag.String("request", "", "path to a JSON request file for a new workflow")
		goal        = flag.String("goal", "", "learning goal for a new workflow")
		learner     = flag.String("learner", "", "learner id for a new workflow")
		background  = flag.String("background", "", "learner background")
		hours       = flag.Int("hours", 0, "weekly hours the learner can commit")
		formats     = flag.String("formats", "", "comma-separated preferred formats")
		workflowID  = flag.String("workflow", "", "workflow id for a new run (generated when empty)")
		resumeID    = flag.String("resume", "", "workflow id to resume")
		approve     = flag.Bool("approve", false, "approve the framework on resume")
		reject      = flag.Bool("reject", false, "reject the framework on resume")
		feedback    = flag.String("feedback", "", "reviewer feedback on rejection")
		reviewer    = flag.String("reviewer", "", "reviewer id")
		offline     = flag.Bool("offline", false, "use deterministic built-in agents instead of the LLM")
		timeout     = flag.Duration("timeout", 30*time.Minute, "overall run deadline")
	)
	flag.Parse()

	req, err := buildRequest(*requestPath, *goal, *learner, *background, *formats, *hours)
	if err != nil {
		fmt.Fprintln(os.Stderr, "coursecraft:", err)
		os.Exit(1)
	}

	if err := run(*configPath, req, *workflowID, *resumeID,
		*approve, *reject, *feedback, *reviewer, *offline, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, "coursecraft:", err)
		os.Exit(1)
	}
}

// buildRequest assembles the learner request from a JSON file or flags;
// flags override file fields when both are given.
func buildRequest(path, goal, learner, background, formats string, hours int) (*types.Request, error) {
	req := &types.Request{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read request file: %w", err)
		}
		if err := json.Unmarshal(raw, req); err != nil {
			return nil, fmt.Errorf("parse request file %s: %w", path, err)
		}
	}
	if goal != "" {
		req.Goal = goal
	}
	if learner != "" {
		req.LearnerID = learner
	}
	if background != "" {
		req.Background = background
	}
	if hours > 0 {
		req.WeeklyHours = hours
	}
	if formats != "" {
		req.PreferredFormats = strings.Split(formats, ",")
	}
	return req, nil
}

func run(configPath string, req *types.Request, workflowID, resumeID string,
	approve, reject bool, feedback, reviewer string,
	offline bool, timeout time.Duration) error {

	if resumeID == "" && req.Goal == "" {
		return fmt.Errorf("either -goal/-request (new workflow) or -resume (existing workflow) is required")
	}
	if approve && reject {
		return fmt.Errorf("-approve and -reject are mutually exclusive")
	}

	opts := []coursecraft.Option{}
	if configPath != "" {
		opts = append(opts, coursecraft.WithConfigPath(configPath))
	}
	if offline {
		static := &agents.StaticAgents{}
		opts = append(opts, coursecraft.WithAgents(static.Set()))
	}

	app, err := coursecraft.New(opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if cerr := app.Close(shutdownCtx); cerr != nil {
			app.Logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	var state *workflow.State
	if resumeID != "" {
		var decision *types.ReviewDecision
		if approve || reject {
			decision = &types.ReviewDecision{
				Approved:  approve,
				Feedback:  feedback,
				Reviewer:  reviewer,
				DecidedAt: time.Now().UTC(),
			}
		}
		state, err = app.Resume(ctx, resumeID, decision)
	} else {
		state, err = app.RunWithID(ctx, workflowID, req)
	}
	if err != nil {
		return err
	}

	return printSummary(os.Stdout, state)
}

// summary is the CLI's JSON view of a finished or suspended workflow.
type summary struct {
	WorkflowID     string   `json:"workflow_id"`
	CurrentStep    string   `json:"current_step"`
	TerminalStatus string   `json:"terminal_status,omitempty"`
	Suspended      bool     `json:"suspended"`
	Framework      string   `json:"framework,omitempty"`
	Retries        int      `json:"validation_retries"`
	UnitsTotal     int      `json:"units_total"`
	UnitsCompleted int      `json:"units_completed"`
	UnitsFailed    int      `json:"units_failed"`
	FailedUnitIDs  []string `json:"failed_unit_ids,omitempty"`
}

func printSummary(w *os.File, s *workflow.State) error {
	out := summary{
		WorkflowID:     s.WorkflowID,
		CurrentStep:    string(s.CurrentStep),
		TerminalStatus: string(s.TerminalStatus),
		Suspended:      !s.IsTerminal() && s.CurrentStep == workflow.StepHumanReview,
		Retries:        s.RetryCountValidation,
		UnitsTotal:     len(s.ContentUnits),
		UnitsCompleted: s.CompletedUnits(),
		UnitsFailed:    s.FailedUnits(),
	}
	if s.Framework != nil {
		out.Framework = s.Framework.Title
	}
	for _, unit := range s.ContentUnits {
		if unit.Status == workflow.UnitFailed {
			out.FailedUnitIDs = append(out.FailedUnitIDs, unit.ID)
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
