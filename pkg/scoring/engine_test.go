package scoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-agora/agora/pkg/discussion"
	"github.com/go-agora/agora/pkg/participant"
)

type fakeScorer struct {
	stop    float64
	value   float64
	panics  bool
	blockCh chan struct{}
	emitted bool
}

func (f *fakeScorer) Score(_ discussion.View) *SVRResult {
	if f.panics {
		panic("scripted failure")
	}
	if f.blockCh != nil {
		<-f.blockCh
	}
	f.emitted = true
	return &SVRResult{Stop: f.stop, Value: f.value, Confidence: 1, ComputedAt: time.Now()}
}

func (f *fakeScorer) LastEmittedStop() (float64, bool) {
	return f.stop, f.emitted
}

func noopGenerator() participant.Generator {
	return participant.GeneratorFunc(func(context.Context, participant.PromptContext) (participant.Result, error) {
		return participant.Result{Content: "ok"}, nil
	})
}

func testRegistry(t *testing.T, ids ...string) *participant.Registry {
	t.Helper()
	infos := make([]participant.Info, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, participant.Info{ID: participant.ID(id), Name: id, Generator: noopGenerator()})
	}
	reg, err := participant.NewRegistry(infos...)
	require.NoError(t, err)
	return reg
}

func snapshotFor(reg *participant.Registry) discussion.Snapshot {
	ctx := discussion.NewContext("s1", "topic", reg.IDs(), 0)
	return ctx.Snapshot()
}

func TestEngineComputeAll_AggregatesMeanStop(t *testing.T) {
	reg := testRegistry(t, "a", "b", "c")
	scripted := map[participant.ID]*fakeScorer{
		"a": {stop: 0.2, value: 60},
		"b": {stop: 0.4, value: 80},
		"c": {stop: 0.6, value: 40},
	}
	eng := NewEngine(EngineConfig{Deadline: time.Second}, WithScorerFactory(func(id participant.ID) ParticipantScorer {
		return scripted[id]
	}))

	agg := eng.ComputeAll(context.Background(), snapshotFor(reg), reg)
	require.Len(t, agg.Results, 3)
	assert.InDelta(t, 0.4, agg.MeanStop, 1e-9)
	assert.Equal(t, 3, agg.Stats.Succeeded)
	assert.Equal(t, 3, agg.ParticipantCount)
}

func TestEngineComputeAll_PanickingScorerGetsNeutralResult(t *testing.T) {
	reg := testRegistry(t, "a", "b", "c")
	eng := NewEngine(EngineConfig{Deadline: time.Second}, WithScorerFactory(func(id participant.ID) ParticipantScorer {
		if id == "b" {
			return &fakeScorer{panics: true}
		}
		return &fakeScorer{stop: 0.5, value: 50}
	}))

	start := time.Now()
	agg := eng.ComputeAll(context.Background(), snapshotFor(reg), reg)
	require.Len(t, agg.Results, 3)
	assert.Less(t, time.Since(start), time.Second)

	neutral := agg.Results["b"]
	require.NotNil(t, neutral)
	assert.InDelta(t, 0.1, neutral.Stop, 1e-9)
	assert.InDelta(t, 45.0, neutral.Value, 1e-9)
	assert.Equal(t, 1, agg.Stats.Failed)
	assert.Equal(t, 2, agg.Stats.Succeeded)
	assert.Equal(t, "failed", agg.Stats.PerParticipant["b"])
}

func TestEngineComputeAll_DeadlineProducesPartialAggregate(t *testing.T) {
	reg := testRegistry(t, "fast", "slow")
	block := make(chan struct{})
	defer close(block)
	eng := NewEngine(EngineConfig{Deadline: 50 * time.Millisecond}, WithScorerFactory(func(id participant.ID) ParticipantScorer {
		if id == "slow" {
			return &fakeScorer{blockCh: block}
		}
		return &fakeScorer{stop: 0.3, value: 70}
	}))

	agg := eng.ComputeAll(context.Background(), snapshotFor(reg), reg)
	require.NotNil(t, agg)
	assert.Len(t, agg.Results, 1)
	assert.Contains(t, agg.Results, participant.ID("fast"))
	assert.Equal(t, 1, agg.Stats.TimedOut)
	assert.Equal(t, "timeout", agg.Stats.PerParticipant["slow"])
	assert.InDelta(t, 0.3, agg.MeanStop, 1e-9)
}

// gatedScorer blocks inside Score until its gate opens and counts entries and
// exits under a lock, so tests can assert how many goroutines ever ran it.
type gatedScorer struct {
	gate chan struct{}

	mu       sync.Mutex
	entered  int
	returned int
}

func (g *gatedScorer) Score(discussion.View) *SVRResult {
	g.mu.Lock()
	g.entered++
	g.mu.Unlock()
	<-g.gate
	g.mu.Lock()
	g.returned++
	g.mu.Unlock()
	return &SVRResult{Stop: 0.9, Value: 20, Confidence: 1, ComputedAt: time.Now()}
}

func (g *gatedScorer) LastEmittedStop() (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return 0.9, g.returned > 0
}

func (g *gatedScorer) entries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entered
}

// A scorer abandoned at the deadline keeps running; the next cycle must not
// re-enter it while its history is still being written.
func TestEngineComputeAll_InFlightScorerIsNotReentered(t *testing.T) {
	reg := testRegistry(t, "fast", "slow")
	slow := &gatedScorer{gate: make(chan struct{})}
	eng := NewEngine(EngineConfig{Deadline: 50 * time.Millisecond}, WithScorerFactory(func(id participant.ID) ParticipantScorer {
		if id == "slow" {
			return slow
		}
		return &fakeScorer{stop: 0.3, value: 70}
	}))
	snap := snapshotFor(reg)

	// First cycle abandons the slow scorer at the deadline.
	agg := eng.ComputeAll(context.Background(), snap, reg)
	assert.Equal(t, "timeout", agg.Stats.PerParticipant["slow"])
	assert.Equal(t, 1, slow.entries())

	// Second cycle while the first call is still blocked: the scorer is
	// skipped, not invoked concurrently, and stays a timeout.
	agg = eng.ComputeAll(context.Background(), snap, reg)
	assert.Equal(t, "timeout", agg.Stats.PerParticipant["slow"])
	assert.Equal(t, 1, agg.Stats.TimedOut)
	assert.Equal(t, 1, slow.entries())

	// While still in flight, the monitor view excludes the slow scorer.
	assert.NotContains(t, eng.LastEmittedStops(), participant.ID("slow"))

	// Once the abandoned call drains and the scorer is released, it shows up
	// in the monitor view and is handed out again.
	close(slow.gate)
	require.Eventually(t, func() bool {
		_, ok := eng.LastEmittedStops()[participant.ID("slow")]
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	agg = eng.ComputeAll(context.Background(), snap, reg)
	require.Contains(t, agg.Results, participant.ID("slow"))
	assert.Equal(t, "ok", agg.Stats.PerParticipant["slow"])
	assert.Equal(t, 2, slow.entries())
}

func TestEngineComputeAll_ReusesScorersAcrossCycles(t *testing.T) {
	reg := testRegistry(t, "a")
	created := 0
	eng := NewEngine(EngineConfig{Deadline: time.Second}, WithScorerFactory(func(id participant.ID) ParticipantScorer {
		created++
		return &fakeScorer{stop: 0.1, value: 10}
	}))
	snap := snapshotFor(reg)
	eng.ComputeAll(context.Background(), snap, reg)
	eng.ComputeAll(context.Background(), snap, reg)
	assert.Equal(t, 1, created)
}

func TestEngineLastEmittedStops(t *testing.T) {
	reg := testRegistry(t, "a", "b")
	eng := NewEngine(EngineConfig{Deadline: time.Second}, WithScorerFactory(func(id participant.ID) ParticipantScorer {
		return &fakeScorer{stop: 0.25, value: 50}
	}))
	assert.Empty(t, eng.LastEmittedStops())
	eng.ComputeAll(context.Background(), snapshotFor(reg), reg)
	stops := eng.LastEmittedStops()
	require.Len(t, stops, 2)
	assert.InDelta(t, 0.25, stops["a"], 1e-9)
}

func TestEngineComputeAll_RealScorersEndToEnd(t *testing.T) {
	reg := testRegistry(t, "alice", "bob")
	eng := NewEngine(EngineConfig{Deadline: time.Second, MaxStopDelta: 0.2})

	dctx := discussion.NewContext("s1", "topic", reg.IDs(), 0)
	require.NoError(t, dctx.AddTurn(&discussion.Turn{
		ParticipantID:   participant.SystemID,
		ParticipantName: "system",
		Type:            discussion.TurnInitial,
		Content:         "seed",
	}))

	agg := eng.ComputeAll(context.Background(), dctx.Snapshot(), reg)
	require.Len(t, agg.Results, 2)
	// Cold participants get the default value score and a baseline-limited stop.
	assert.InDelta(t, 75.0, agg.Results["alice"].Value, 1e-9)
	assert.InDelta(t, 0.3, agg.Results["alice"].Stop, 1e-9)
}
