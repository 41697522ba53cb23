package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coursecraft/coursecraft/checkpoint"
	"github.com/coursecraft/coursecraft/types"
)

// recordingSaver captures every incremental progress snapshot.
type recordingSaver struct {
	mu        sync.Mutex
	snapshots [][]ContentUnit
}

func (r *recordingSaver) SaveUnitProgress(_ context.Context, s *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, cloneUnits(s.ContentUnits))
	return nil
}

func (r *recordingSaver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func contentState(units int) *State {
	s := NewState("wf-content", &types.Request{Goal: "learn go"})
	s.Intent = &types.Intent{Topic: "go", Level: "beginner"}
	s.Framework = testFramework(units)
	s.CurrentStep = StepStructureValidation
	return s
}

// contentRunner builds a runner whose tutorial agent fails for the given
// concept ids; resources and quizzes always succeed.
func contentRunner(t *testing.T, failIDs map[string]bool, opts ContentRunnerOptions) *ContentRunner {
	t.Helper()

	opts.Tutorial = tutorialFn(func(_ context.Context, _ *types.Intent, c *types.Concept) (*types.Tutorial, error) {
		if failIDs[c.ID] {
			return nil, types.NewError(types.ErrAgentUpstream, "model refused").WithRetryable(false)
		}
		return &types.Tutorial{ConceptID: c.ID, Title: c.Title, Body: "lesson"}, nil
	})
	opts.Resource = resourceFn(func(_ context.Context, _ *types.Intent, c *types.Concept) (*types.ResourceList, error) {
		return &types.ResourceList{ConceptID: c.ID}, nil
	})
	opts.Quiz = quizFn(func(_ context.Context, _ *types.Intent, c *types.Concept) (*types.Quiz, error) {
		return &types.Quiz{ConceptID: c.ID}, nil
	})
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 4
	}
	if opts.CheckpointEvery == 0 {
		opts.CheckpointEvery = 1
	}
	return NewContentRunner(opts)
}

func TestContentUnitFailureIsIsolated(t *testing.T) {
	runner := contentRunner(t, map[string]bool{"c2": true, "c4": true}, ContentRunnerOptions{})
	s := contentState(5)

	delta, err := runner.Run(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, delta.ContentUnits, 5)

	for i, unit := range delta.ContentUnits {
		assert.Equal(t, fmt.Sprintf("c%d", i+1), unit.ID, "input ordering must survive aggregation")
		if unit.ID == "c2" || unit.ID == "c4" {
			assert.Equal(t, UnitFailed, unit.Status)
			assert.NotEmpty(t, unit.Error)
			assert.Nil(t, unit.Content)
		} else {
			assert.Equal(t, UnitCompleted, unit.Status)
			require.NotNil(t, unit.Content)
			assert.Equal(t, unit.ID, unit.Content.Tutorial.ConceptID)
		}
	}
}

func TestContentRunnerSkipsCompletedUnits(t *testing.T) {
	var mu sync.Mutex
	invoked := map[string]int{}
	runner := contentRunner(t, nil, ContentRunnerOptions{})
	runner.tutorial = tutorialFn(func(_ context.Context, _ *types.Intent, c *types.Concept) (*types.Tutorial, error) {
		mu.Lock()
		invoked[c.ID]++
		mu.Unlock()
		return &types.Tutorial{ConceptID: c.ID, Body: "lesson"}, nil
	})

	s := contentState(6)
	s.ContentUnits = buildUnits(s.Framework)
	for i := 0; i < 3; i++ {
		s.ContentUnits[i].Status = UnitCompleted
		s.ContentUnits[i].Content = &types.UnitContent{
			Tutorial: &types.Tutorial{ConceptID: s.ContentUnits[i].ID, Body: "kept"},
		}
	}

	delta, err := runner.Run(context.Background(), s)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.Zero(t, invoked[delta.ContentUnits[i].ID], "completed unit must not re-run")
		assert.Equal(t, "kept", delta.ContentUnits[i].Content.Tutorial.Body)
	}
	for i := 3; i < 6; i++ {
		assert.Equal(t, 1, invoked[delta.ContentUnits[i].ID])
		assert.Equal(t, UnitCompleted, delta.ContentUnits[i].Status)
	}
}

func TestContentRunnerCheckpointCadence(t *testing.T) {
	t.Run("every settled unit", func(t *testing.T) {
		saver := &recordingSaver{}
		runner := contentRunner(t, nil, ContentRunnerOptions{
			Concurrency: 1, CheckpointEvery: 1, Saver: saver,
		})
		_, err := runner.Run(context.Background(), contentState(5))
		require.NoError(t, err)
		assert.Equal(t, 5, saver.count())
	})

	t.Run("every second settled unit", func(t *testing.T) {
		saver := &recordingSaver{}
		runner := contentRunner(t, nil, ContentRunnerOptions{
			Concurrency: 1, CheckpointEvery: 2, Saver: saver,
		})
		_, err := runner.Run(context.Background(), contentState(5))
		require.NoError(t, err)
		assert.Equal(t, 2, saver.count())
	})
}

func TestContentAggregationProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 60

	properties := gopter.NewProperties(params)
	properties.Property("completed iff zero failed units, ordering preserved", prop.ForAll(
		func(n int, failMask int) bool {
			failIDs := map[string]bool{}
			failures := 0
			for i := 0; i < n; i++ {
				if failMask&(1<<i) != 0 {
					failIDs[fmt.Sprintf("c%d", i+1)] = true
					failures++
				}
			}

			runner := contentRunner(t, failIDs, ContentRunnerOptions{Concurrency: 4})
			s := contentState(n)
			delta, err := runner.Run(context.Background(), s)
			if err != nil || len(delta.ContentUnits) != n {
				return false
			}
			for i, unit := range delta.ContentUnits {
				if unit.ID != fmt.Sprintf("c%d", i+1) {
					return false
				}
				wantFailed := failIDs[unit.ID]
				if wantFailed != (unit.Status == UnitFailed) {
					return false
				}
			}

			s.ContentUnits = delta.ContentUnits
			s.CurrentStep = StepContentGeneration
			d := Next(RouterConfig{}, s)
			if d.Kind != DecideFinish {
				return false
			}
			if failures == 0 {
				return d.Status == StatusCompleted
			}
			return d.Status == StatusPartialFailure
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 1023),
	))
	properties.TestingRun(t)
}

func TestCrashResumeMidFanOutMatchesUninterruptedRun(t *testing.T) {
	cfg := workflowCfg()
	cfg.SkipHumanReview = true
	cfg.ContentConcurrency = 3

	var mu sync.Mutex
	invoked := map[string]int{}
	set := happyAgents(10)
	set.Tutorial = tutorialFn(func(_ context.Context, _ *types.Intent, c *types.Concept) (*types.Tutorial, error) {
		mu.Lock()
		invoked[c.ID]++
		mu.Unlock()
		return &types.Tutorial{ConceptID: c.ID, Body: "lesson"}, nil
	})
	h := newHarness(t, cfg, set)
	ctx := context.Background()

	// Checkpoint as a crashed run would have left it: validation done,
	// 3 of 10 units already completed.
	s := NewState("wf-midfan", &types.Request{Goal: "learn go"})
	s.CurrentStep = StepStructureValidation
	s.Intent = &types.Intent{Topic: "go", Level: "beginner"}
	s.Framework = testFramework(10)
	s.ValidationResult = &types.ValidationResult{Valid: true, CheckedAt: time.Now().UTC()}
	s.ContentUnits = buildUnits(s.Framework)
	for i := 0; i < 3; i++ {
		s.ContentUnits[i].Status = UnitCompleted
		s.ContentUnits[i].Content = &types.UnitContent{
			Tutorial: &types.Tutorial{ConceptID: s.ContentUnits[i].ID, Body: "from-before-crash"},
		}
	}
	env, err := checkpoint.NewEnvelope(s.WorkflowID, 1, s)
	require.NoError(t, err)
	require.NoError(t, h.store.Save(ctx, env))

	final, err := h.exec.Resume(ctx, "wf-midfan", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, final.TerminalStatus)
	require.Len(t, final.ContentUnits, 10)
	for i, unit := range final.ContentUnits {
		assert.Equal(t, fmt.Sprintf("c%d", i+1), unit.ID)
		assert.Equal(t, UnitCompleted, unit.Status)
	}
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("c%d", i+1)
		assert.Zero(t, invoked[id], "unit %s was already completed", id)
		assert.Equal(t, "from-before-crash", final.ContentUnits[i].Content.Tutorial.Body)
	}
	for i := 3; i < 10; i++ {
		assert.Equal(t, 1, invoked[fmt.Sprintf("c%d", i+1)])
	}
}

func TestCancellationPersistsPartialProgress(t *testing.T) {
	cfg := workflowCfg()
	cfg.SkipHumanReview = true
	cfg.ContentConcurrency = 1
	cfg.CheckpointEvery = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	invoked := map[string]int{}
	set := happyAgents(5)
	set.Tutorial = tutorialFn(func(callCtx context.Context, _ *types.Intent, c *types.Concept) (*types.Tutorial, error) {
		mu.Lock()
		invoked[c.ID]++
		mu.Unlock()
		if c.ID == "c3" {
			cancel()
			<-callCtx.Done()
			return nil, callCtx.Err()
		}
		return &types.Tutorial{ConceptID: c.ID, Body: "lesson"}, nil
	})
	h := newHarness(t, cfg, set)

	interrupted, err := h.exec.Run(ctx, NewState("wf-cancel", &types.Request{Goal: "g"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, interrupted.IsTerminal())

	// The checkpoint written on the way out must carry the two settled
	// units so a resume does not redo them.
	env, found, lerr := h.store.Load(context.Background(), "wf-cancel")
	require.NoError(t, lerr)
	require.True(t, found)
	var persisted State
	require.NoError(t, env.Decode(&persisted))
	require.Len(t, persisted.ContentUnits, 5)
	assert.Equal(t, UnitCompleted, persisted.ContentUnits[0].Status)
	assert.Equal(t, UnitCompleted, persisted.ContentUnits[1].Status)
	for i := 2; i < 5; i++ {
		assert.Equal(t, UnitPending, persisted.ContentUnits[i].Status)
	}
	assert.Empty(t, persisted.TerminalStatus)

	// Resume with the interference gone: a fresh executor over the same
	// store finishes everything else and never redoes settled units.
	set.Tutorial = tutorialFn(func(_ context.Context, _ *types.Intent, c *types.Concept) (*types.Tutorial, error) {
		mu.Lock()
		invoked[c.ID]++
		mu.Unlock()
		return &types.Tutorial{ConceptID: c.ID, Body: "lesson"}, nil
	})
	h2 := newHarnessWithStore(t, cfg, set, h.store)
	final, err := h2.exec.Resume(context.Background(), "wf-cancel", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.TerminalStatus)
	assert.Equal(t, 1, invoked["c1"])
	assert.Equal(t, 1, invoked["c2"])
}
