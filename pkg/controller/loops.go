package controller

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-agora/agora/pkg/discussion"
	"github.com/go-agora/agora/pkg/events"
	"github.com/go-agora/agora/pkg/policy"
	"github.com/go-agora/agora/pkg/scoring"
	"github.com/go-agora/agora/pkg/store"
	"github.com/go-agora/agora/pkg/transport"
)

// pausePoll is the pause-wait spin interval.
const pausePoll = 100 * time.Millisecond

// mainLoop runs the decision cycle until a terminal condition: a stop
// decision, a hard limit, error-budget exhaustion, or cancellation.
func (c *Controller) mainLoop(ctx context.Context) {
	defer c.loopWG.Done()
	// A parent-context cancellation arrives without a Stop call; the session
	// must still reach a terminal state so Done closes and Status never
	// reports a running session with no loops alive. During Stop the state is
	// already stopping and the caller finalizes.
	defer func() {
		if ctx.Err() != nil && c.currentState() != StateStopping {
			c.terminate("context_cancelled", StateStopped)
		}
	}()
	for {
		if ctx.Err() != nil {
			return
		}
		if cancelled := c.waitWhilePaused(ctx); cancelled {
			return
		}
		if reason, hit := c.limitReached(); hit {
			c.terminate(reason, StateStopped)
			return
		}
		if terminal := c.runCycle(ctx); terminal {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.CycleYield):
		}
	}
}

// waitWhilePaused spins until the controller leaves the paused state.
// Returns true when the context is cancelled while waiting.
func (c *Controller) waitWhilePaused(ctx context.Context) bool {
	for c.currentState() == StatePaused {
		select {
		case <-ctx.Done():
			return true
		case <-time.After(pausePoll):
		}
	}
	return false
}

func (c *Controller) limitReached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turnCount >= c.cfg.MaxTurns {
		return "max_turns_reached", true
	}
	if time.Since(c.startedAt) >= c.cfg.MaxDuration {
		return "max_duration_reached", true
	}
	if c.consecErrors >= c.cfg.MaxConsecutiveErrors {
		return "error_budget_exhausted", true
	}
	return "", false
}

// runCycle executes one score→decide→speak pass. It returns true when the
// session terminated. A failure anywhere in the cycle consumes error budget
// but never crashes the loop.
func (c *Controller) runCycle(ctx context.Context) (terminal bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "controller").
				Any("panic", r).
				Msg("cycle panicked")
			terminal = c.recordCycleError(errors.Errorf("cycle panic: %v", r))
		}
	}()

	c.mu.Lock()
	dctx := c.dctx
	reg := c.reg
	c.mu.Unlock()

	snap := dctx.Snapshot()
	agg := c.engine.ComputeAll(ctx, snap, reg)
	dctx.SetLastComputed(agg.ComputedAt, agg.MeanStop)

	c.mu.Lock()
	c.lastMeanStop = agg.MeanStop
	c.mu.Unlock()

	c.emit(events.New(events.TypeSVRComputed, snap.SessionID, map[string]any{
		"mean_stop":   agg.MeanStop,
		"quality":     agg.Quality,
		"succeeded":   agg.Stats.Succeeded,
		"failed":      agg.Stats.Failed,
		"timed_out":   agg.Stats.TimedOut,
		"elapsed_ms":  agg.Stats.Elapsed.Milliseconds(),
		"svr_results": summarizeResults(agg),
	}))

	c.updatePhase(dctx, agg.MeanStop)

	dec := c.policy.Decide(agg, reg)
	c.mu.Lock()
	c.lastDecision = dec
	c.mu.Unlock()
	c.emit(events.New(events.TypeDecisionMade, snap.SessionID, map[string]any{
		"action":      string(dec.Action),
		"participant": string(dec.ParticipantID),
		"confidence":  dec.Confidence,
		"reasons":     dec.Reasons,
		"metadata":    dec.Metadata,
	}))

	switch dec.Action {
	case policy.ActionStop:
		c.terminate("stop_decision", StateStopped)
		return true
	case policy.ActionPause:
		if err := c.Pause(); err != nil {
			log.Warn().Str("component", "controller").Err(err).Msg("policy pause not applied")
		}
		return false
	case policy.ActionRedirect:
		// The policy never redirects on its own; redirects arrive through
		// the Redirect operation. Nothing to do in-cycle.
		return false
	}

	if err := c.speakTurn(ctx, dec, snap, agg); err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Warn().
			Str("component", "controller").
			Str("session_id", snap.SessionID).
			Str("participant_id", string(dec.ParticipantID)).
			Err(err).
			Msg("turn generation failed, skipping cycle")
		c.emit(events.New(events.TypeErrorOccurred, snap.SessionID, map[string]any{
			"error":       err.Error(),
			"participant": string(dec.ParticipantID),
		}))
		return c.recordCycleError(err)
	}

	c.mu.Lock()
	c.consecErrors = 0
	c.turnCount++
	c.mu.Unlock()
	return false
}

// recordCycleError consumes error budget; exhaustion terminates the session
// into the error state and is itself terminal.
func (c *Controller) recordCycleError(err error) bool {
	c.mu.Lock()
	c.consecErrors++
	c.totalErrors++
	exhausted := c.consecErrors >= c.cfg.MaxConsecutiveErrors
	consec := c.consecErrors
	c.mu.Unlock()
	if !exhausted {
		return false
	}
	log.Error().
		Str("component", "controller").
		Int("consecutive_errors", consec).
		Err(err).
		Msg("error budget exhausted")
	c.terminate("error_budget_exhausted", StateError)
	return true
}

// speakTurn asks the selected participant to generate, then appends,
// persists, announces, and broadcasts the resulting turn. Persistence and
// broadcast are best-effort.
func (c *Controller) speakTurn(ctx context.Context, dec *policy.Decision, snap discussion.Snapshot, agg *scoring.AggregateResult) error {
	info, ok := c.reg.Get(dec.ParticipantID)
	if !ok {
		return errors.Errorf("selected participant %q is not registered", dec.ParticipantID)
	}

	pc := c.buildPromptContext(snap, dec, agg)
	// The generation call itself carries no timeout: the capability boundary
	// owns that. Cancellation still applies through ctx.
	res, err := info.Generator.Generate(ctx, pc)
	if err != nil {
		return errors.Wrap(err, "generate")
	}

	turn := &discussion.Turn{
		ParticipantID:   info.ID,
		ParticipantName: info.Name,
		Content:         res.Content,
	}
	if last, ok := snap.LastTurn(); ok {
		turn.RespondingTo = last.ID
		turn.Type = classifyTurn(res.Content, last, info.ID)
	} else {
		turn.Type = discussion.TurnInitial
	}
	if r, ok := agg.Results[info.ID]; ok {
		turn.SVR = r.Snapshot()
		turn.Analysis = map[string]any{
			"confidence":      r.Confidence,
			"composite":       r.Composite,
			"recommendations": r.Recommendations,
		}
	}

	if err := c.dctx.AddTurn(turn); err != nil {
		return errors.Wrap(err, "append turn")
	}

	if c.turnStore != nil {
		rec, err := store.RecordFromTurn(snap.SessionID, turn)
		if err == nil {
			err = c.turnStore.SaveTurn(ctx, rec)
		}
		if err != nil {
			log.Warn().
				Str("component", "controller").
				Str("turn_id", turn.ID).
				Err(err).
				Msg("turn persistence failed")
		}
	}

	c.emit(events.New(events.TypeTurnCompleted, snap.SessionID, map[string]any{
		"turn_id":     turn.ID,
		"participant": string(turn.ParticipantID),
		"round":       turn.Round,
		"sequence":    turn.Sequence,
		"turn_type":   string(turn.Type),
	}))

	if c.broadcaster != nil {
		if err := c.broadcaster.BroadcastTurn(ctx, snap.SessionID, transport.PayloadFromTurn(turn)); err != nil {
			log.Warn().
				Str("component", "controller").
				Str("turn_id", turn.ID).
				Err(err).
				Msg("turn broadcast failed")
		}
	}
	return nil
}

// updatePhase reflects convergence pressure in the session phase.
func (c *Controller) updatePhase(dctx *discussion.Context, meanStop float64) {
	threshold := c.policy.Threshold()
	switch {
	case meanStop >= threshold-0.15:
		dctx.SetPhase(discussion.PhaseConverging)
	default:
		dctx.SetPhase(discussion.PhaseOngoing)
	}
}

// monitorLoop emits observability updates on a fixed interval. It reuses
// the scorers' last emitted values instead of re-running the fan-out, and
// only when the main loop's own computation has gone stale.
func (c *Controller) monitorLoop(ctx context.Context) {
	defer c.loopWG.Done()
	ticker := time.NewTicker(c.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		state := c.currentState()
		if state.terminal() {
			return
		}

		c.mu.Lock()
		dctx := c.dctx
		c.mu.Unlock()
		if dctx == nil {
			continue
		}

		data := map[string]any{"state": string(state)}
		if time.Since(dctx.LastComputedAt()) > 2*c.cfg.CycleYield {
			stops := c.engine.LastEmittedStops()
			sum := 0.0
			for _, v := range stops {
				sum += v
			}
			if len(stops) > 0 {
				data["mean_stop"] = sum / float64(len(stops))
			}
			data["recomputed"] = true
		}
		snap := dctx.Snapshot()
		data["turn_count"] = snap.TurnCount
		data["balance"] = snap.Metrics.Balance
		data["momentum"] = snap.Metrics.Momentum
		data["phase"] = string(snap.Phase)
		c.emit(events.New(events.TypeMonitorUpdate, snap.SessionID, data))
	}
}

func summarizeResults(agg *scoring.AggregateResult) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(agg.Results))
	for id, r := range agg.Results {
		out[string(id)] = map[string]float64{
			"stop":        r.Stop,
			"value":       r.Value,
			"repeat_risk": r.RepeatRisk,
			"confidence":  r.Confidence,
		}
	}
	return out
}
