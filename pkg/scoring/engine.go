package scoring

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-agora/agora/pkg/discussion"
	"github.com/go-agora/agora/pkg/participant"
)

// DefaultDeadline bounds the whole scoring fan-out of one cycle.
const DefaultDeadline = 30 * time.Second

// ParticipantScorer is the per-participant scoring unit the engine fans out
// to. *Scorer is the production implementation; tests substitute their own
// through the factory.
type ParticipantScorer interface {
	Score(view discussion.View) *SVRResult
	LastEmittedStop() (float64, bool)
}

// ScorerFactory builds a scoring unit for a participant. Passed explicitly
// at construction instead of living in a process-wide registry.
type ScorerFactory func(id participant.ID) ParticipantScorer

// EngineConfig tunes the scoring fan-out.
type EngineConfig struct {
	// Deadline applies to the whole fan-out, not per participant.
	Deadline time.Duration
	// MaxStopDelta is handed to lazily created scorers.
	MaxStopDelta float64
}

// Engine fans out one scoring invocation per participant, enforces the
// shared deadline, tolerates individual failures, and aggregates. It always
// produces an AggregateResult; it never blocks the controller indefinitely.
type Engine struct {
	cfg     EngineConfig
	factory ScorerFactory

	mu      sync.Mutex
	scorers map[participant.ID]ParticipantScorer
	// busy marks scorers whose Score call is still in flight. A scorer
	// abandoned at a deadline keeps running; it must not be handed to the
	// next cycle's goroutine while its history is still being written.
	busy map[participant.ID]bool
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithScorerFactory overrides how per-participant scorers are built.
func WithScorerFactory(f ScorerFactory) EngineOption {
	return func(e *Engine) {
		if f != nil {
			e.factory = f
		}
	}
}

func NewEngine(cfg EngineConfig, opts ...EngineOption) *Engine {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	e := &Engine{
		cfg:     cfg,
		scorers: map[participant.ID]ParticipantScorer{},
		busy:    map[participant.ID]bool{},
	}
	e.factory = func(id participant.ID) ParticipantScorer {
		return NewScorer(id, cfg.MaxStopDelta)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// acquireScorer returns the participant's scorer, creating it on first use,
// and marks it in flight. A scorer whose previous invocation has not returned
// yet is not handed out again: Score mutates the scorer's private history
// without a lock, so at most one goroutine may run it at a time.
func (e *Engine) acquireScorer(id participant.ID) (ParticipantScorer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy[id] {
		return nil, false
	}
	s, ok := e.scorers[id]
	if !ok {
		s = e.factory(id)
		e.scorers[id] = s
	}
	e.busy[id] = true
	return s, true
}

func (e *Engine) releaseScorer(id participant.ID) {
	e.mu.Lock()
	delete(e.busy, id)
	e.mu.Unlock()
}

// LastEmittedStops returns each known scorer's previous rate-limited stop
// value. The monitor loop uses this for its lightweight aggregate instead of
// re-running the fan-out.
func (e *Engine) LastEmittedStops() map[participant.ID]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[participant.ID]float64, len(e.scorers))
	for id, s := range e.scorers {
		// An in-flight scorer may be writing its history right now.
		if e.busy[id] {
			continue
		}
		if v, ok := s.LastEmittedStop(); ok {
			out[id] = v
		}
	}
	return out
}

// ComputeAll scores every registered participant concurrently against one
// shared snapshot. Results that complete within the deadline are kept;
// participants still in flight at the deadline are omitted from the
// aggregate. A participant whose scoring unit panics is represented by the
// neutral result, so individual failures never cost the cycle.
func (e *Engine) ComputeAll(ctx context.Context, snap discussion.Snapshot, reg *participant.Registry) *AggregateResult {
	started := time.Now()
	ids := reg.IDs()

	e.validateAuthors(snap, reg)

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Deadline)
	defer cancel()

	var (
		resMu   sync.Mutex
		results = make(map[participant.ID]*SVRResult, len(ids))
		status  = make(map[participant.ID]string, len(ids))
	)
	record := func(id participant.ID, r *SVRResult, st string) {
		resMu.Lock()
		results[id] = r
		status[id] = st
		resMu.Unlock()
	}

	g, gctx := errgroup.WithContext(runCtx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
			scorer, ok := e.acquireScorer(id)
			if !ok {
				// Still blocked inside a previous cycle; it stays a timeout
				// in this aggregate rather than racing its own history.
				log.Warn().
					Str("component", "scoring").
					Str("session_id", snap.SessionID).
					Str("participant_id", string(id)).
					Msg("scorer still in flight from a previous cycle, skipping")
				return nil
			}
			defer e.releaseScorer(id)
			defer func() {
				if r := recover(); r != nil {
					log.Warn().
						Str("component", "scoring").
						Str("session_id", snap.SessionID).
						Str("participant_id", string(id)).
						Any("panic", r).
						Msg("scoring unit failed, substituting neutral result")
					record(id, NeutralResult(id), "failed")
				}
			}()
			res := scorer.Score(snap.ParticipantView(id))
			if res == nil {
				record(id, NeutralResult(id), "failed")
				return nil
			}
			record(id, res, "ok")
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-runCtx.Done():
		log.Warn().
			Str("component", "scoring").
			Str("session_id", snap.SessionID).
			Dur("deadline", e.cfg.Deadline).
			Msg("scoring fan-out hit deadline, using partial results")
	}

	resMu.Lock()
	defer resMu.Unlock()

	agg := &AggregateResult{
		ComputedAt:       time.Now(),
		Results:          make(map[participant.ID]*SVRResult, len(results)),
		ParticipantCount: len(ids),
		Stats: Stats{
			Elapsed:        time.Since(started),
			PerParticipant: make(map[participant.ID]string, len(ids)),
		},
	}
	stops := make([]float64, 0, len(results))
	values := make([]float64, 0, len(results))
	for _, id := range ids {
		res, ok := results[id]
		if !ok {
			agg.Stats.TimedOut++
			agg.Stats.PerParticipant[id] = "timeout"
			continue
		}
		agg.Results[id] = res
		agg.Stats.PerParticipant[id] = status[id]
		if status[id] == "ok" {
			agg.Stats.Succeeded++
		} else {
			agg.Stats.Failed++
		}
		stops = append(stops, res.Stop)
		values = append(values, res.Value)
	}
	agg.MeanStop = mean(stops)
	agg.Quality = 0.5*mean(values)/100 + 0.3*snap.Metrics.Balance + 0.2*snap.Metrics.Momentum
	return agg
}

// validateAuthors checks that authors of recent turns are a subset of the
// registered participant set. The synthetic system author on seed turns is
// expected; anything else is logged but never aborts the cycle.
func (e *Engine) validateAuthors(snap discussion.Snapshot, reg *participant.Registry) {
	for _, t := range snap.RecentTurns {
		if t.ParticipantID.IsSystem() || reg.Contains(t.ParticipantID) {
			continue
		}
		log.Warn().
			Str("component", "scoring").
			Str("session_id", snap.SessionID).
			Str("turn_id", t.ID).
			Str("participant_id", string(t.ParticipantID)).
			Msg("turn author is not in the current participant set")
	}
}
