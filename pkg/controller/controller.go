package controller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-agora/agora/pkg/discussion"
	"github.com/go-agora/agora/pkg/events"
	"github.com/go-agora/agora/pkg/participant"
	"github.com/go-agora/agora/pkg/policy"
	"github.com/go-agora/agora/pkg/scoring"
	"github.com/go-agora/agora/pkg/store"
	"github.com/go-agora/agora/pkg/transport"
)

// Config bounds and tunes one controller.
type Config struct {
	MaxTurns             int
	MaxDuration          time.Duration
	MaxConsecutiveErrors int

	ScoringDeadline time.Duration
	MaxStopDelta    float64
	StopThreshold   float64
	SnapshotWindow  int

	CycleYield      time.Duration
	MonitorInterval time.Duration
	StopGrace       time.Duration
}

// DefaultConfig returns the standard session limits and loop intervals.
func DefaultConfig() Config {
	return Config{
		MaxTurns:             50,
		MaxDuration:          time.Hour,
		MaxConsecutiveErrors: 5,
		ScoringDeadline:      scoring.DefaultDeadline,
		MaxStopDelta:         scoring.DefaultMaxStopDelta,
		StopThreshold:        policy.DefaultStopThreshold,
		SnapshotWindow:       discussion.DefaultWindowSize,
		CycleYield:           500 * time.Millisecond,
		MonitorInterval:      5 * time.Second,
		StopGrace:            5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxTurns <= 0 {
		c.MaxTurns = d.MaxTurns
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	if c.ScoringDeadline <= 0 {
		c.ScoringDeadline = d.ScoringDeadline
	}
	if c.MaxStopDelta <= 0 {
		c.MaxStopDelta = d.MaxStopDelta
	}
	if c.StopThreshold <= 0 {
		c.StopThreshold = d.StopThreshold
	}
	if c.SnapshotWindow <= 0 {
		c.SnapshotWindow = d.SnapshotWindow
	}
	if c.CycleYield <= 0 {
		c.CycleYield = d.CycleYield
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	if c.StopGrace <= 0 {
		c.StopGrace = d.StopGrace
	}
}

// SessionParams are the bootstrap inputs supplied at Start.
type SessionParams struct {
	SessionID string
	Topic     string
	// SeedContent is the opening turn authored by the system
	// pseudo-participant.
	SeedContent string
	// Participants maps capability handles; identities are normalized once
	// here, at session start.
	Participants []participant.Info
}

// Option customizes controller construction.
type Option func(*Controller)

// WithBus sets the event bus. Without one, events are dropped.
func WithBus(bus *events.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithBroadcaster sets the turn transport collaborator.
func WithBroadcaster(b transport.Broadcaster) Option {
	return func(c *Controller) { c.broadcaster = b }
}

// WithTurnStore enables best-effort turn persistence.
func WithTurnStore(s store.TurnStore) Option {
	return func(c *Controller) { c.turnStore = s }
}

// WithEngine overrides the scoring engine (tests inject scripted scorers
// through scoring.WithScorerFactory).
func WithEngine(e *scoring.Engine) Option {
	return func(c *Controller) { c.engine = e }
}

// WithPolicy overrides the decision policy.
func WithPolicy(p *policy.Policy) Option {
	return func(c *Controller) { c.policy = p }
}

// Controller coordinates one session. Zero value is not usable; construct
// with New.
type Controller struct {
	cfg    Config
	engine *scoring.Engine
	policy *policy.Policy

	bus         *events.Bus
	broadcaster transport.Broadcaster
	turnStore   store.TurnStore

	mu           sync.Mutex
	state        State
	reg          *participant.Registry
	dctx         *discussion.Context
	cancel       context.CancelFunc
	startedAt    time.Time
	turnCount    int
	consecErrors int
	totalErrors  int
	lastDecision *policy.Decision
	lastMeanStop float64
	endReason    string
	done         chan struct{}

	loopWG sync.WaitGroup
}

// New builds an idle controller.
func New(cfg Config, opts ...Option) *Controller {
	cfg.applyDefaults()
	c := &Controller{
		cfg:   cfg,
		state: StateIdle,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.engine == nil {
		c.engine = scoring.NewEngine(scoring.EngineConfig{
			Deadline:     cfg.ScoringDeadline,
			MaxStopDelta: cfg.MaxStopDelta,
		})
	}
	if c.policy == nil {
		c.policy = policy.New(cfg.StopThreshold)
	}
	return c
}

// Start brings the controller from idle to running: it normalizes the
// participant set, seeds the turn log, and launches the two loops. Any state
// other than idle rejects the call.
func (c *Controller) Start(ctx context.Context, params SessionParams) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "start while %s", state)
	}
	c.state = StateInitializing
	c.mu.Unlock()

	reg, err := participant.NewRegistry(params.Participants...)
	if err != nil {
		c.setState(StateIdle)
		return errors.Wrap(err, "controller: start")
	}
	if reg.Len() == 0 {
		c.setState(StateIdle)
		return errors.New("controller: start: empty participant set")
	}
	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	dctx := discussion.NewContext(sessionID, params.Topic, reg.IDs(), c.cfg.SnapshotWindow)
	if params.SeedContent != "" {
		seed := &discussion.Turn{
			ParticipantID:   participant.SystemID,
			ParticipantName: string(participant.SystemID),
			Type:            discussion.TurnInitial,
			Content:         params.SeedContent,
		}
		if err := dctx.AddTurn(seed); err != nil {
			c.setState(StateIdle)
			return errors.Wrap(err, "controller: seed turn")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.reg = reg
	c.dctx = dctx
	c.cancel = cancel
	c.startedAt = time.Now()
	c.turnCount = 0
	c.consecErrors = 0
	c.totalErrors = 0
	c.lastDecision = nil
	c.endReason = ""
	c.done = make(chan struct{})
	c.state = StateRunning
	c.mu.Unlock()

	dctx.SetPhase(discussion.PhaseOngoing)
	c.emit(events.New(events.TypeDiscussionStarted, sessionID, map[string]any{
		"topic":        params.Topic,
		"participants": reg.IDs(),
	}))
	log.Info().
		Str("component", "controller").
		Str("session_id", sessionID).
		Int("participants", reg.Len()).
		Msg("discussion started")

	c.loopWG.Add(2)
	go c.mainLoop(runCtx)
	go c.monitorLoop(runCtx)
	return nil
}

// Pause suspends the main loop between cycles.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != StateRunning {
		state := c.state
		c.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "pause while %s", state)
	}
	c.state = StatePaused
	sessionID := c.dctx.SessionID()
	c.mu.Unlock()
	c.emit(events.New(events.TypeDiscussionPaused, sessionID, nil))
	return nil
}

// Resume continues a paused discussion.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.state != StatePaused {
		state := c.state
		c.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "resume while %s", state)
	}
	c.state = StateRunning
	sessionID := c.dctx.SessionID()
	c.mu.Unlock()
	c.emit(events.New(events.TypeDiscussionResumed, sessionID, nil))
	return nil
}

// Redirect steers an active discussion onto a new topic.
func (c *Controller) Redirect(topic string) error {
	c.mu.Lock()
	if !c.state.active() {
		state := c.state
		c.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "redirect while %s", state)
	}
	dctx := c.dctx
	c.mu.Unlock()
	dctx.RedirectTopic(topic)
	c.emit(events.New(events.TypeDiscussionRedirected, dctx.SessionID(), map[string]any{
		"topic": topic,
	}))
	return nil
}

// Stop ends the session. The current await point is cancelled and the loops
// get a bounded grace period to unwind before completion is forced. Calling
// Stop on an already stopped controller returns ErrInvalidTransition.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.state.active() {
		state := c.state
		c.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "stop while %s", state)
	}
	c.state = StateStopping
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	waited := make(chan struct{})
	go func() {
		c.loopWG.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(c.cfg.StopGrace):
		log.Warn().
			Str("component", "controller").
			Dur("grace", c.cfg.StopGrace).
			Msg("loops did not unwind within grace period, forcing completion")
	}
	c.terminate("stopped_by_caller", StateStopped)
	return nil
}

// Done closes when the session has terminated for any reason.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Status is a point-in-time view of the controller.
type Status struct {
	State             State            `json:"state"`
	SessionID         string           `json:"session_id,omitempty"`
	Topic             string           `json:"topic,omitempty"`
	Phase             discussion.Phase `json:"phase,omitempty"`
	TurnCount         int              `json:"turn_count"`
	TotalErrors       int              `json:"total_errors"`
	ConsecutiveErrors int              `json:"consecutive_errors"`
	StopThreshold     float64          `json:"stop_threshold"`
	LastMeanStop      float64          `json:"last_mean_stop"`
	Balance           float64          `json:"balance"`
	Momentum          float64          `json:"momentum"`
	LastDecision      *policy.Decision `json:"last_decision,omitempty"`
	StartedAt         time.Time        `json:"started_at,omitempty"`
	Elapsed           time.Duration    `json:"elapsed,omitempty"`
	EndReason         string           `json:"end_reason,omitempty"`
}

// Status reports state, counters, and the last decision.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		State:             c.state,
		TurnCount:         c.turnCount,
		TotalErrors:       c.totalErrors,
		ConsecutiveErrors: c.consecErrors,
		StopThreshold:     c.policy.Threshold(),
		LastMeanStop:      c.lastMeanStop,
		LastDecision:      c.lastDecision,
		StartedAt:         c.startedAt,
		EndReason:         c.endReason,
	}
	dctx := c.dctx
	c.mu.Unlock()
	if dctx != nil {
		snap := dctx.Snapshot()
		st.SessionID = snap.SessionID
		st.Topic = snap.Topic
		st.Phase = snap.Phase
		st.Balance = snap.Metrics.Balance
		st.Momentum = snap.Metrics.Momentum
		if !st.StartedAt.IsZero() {
			st.Elapsed = time.Since(st.StartedAt)
		}
	}
	return st
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// terminate finalizes the session exactly once.
func (c *Controller) terminate(reason string, final State) {
	c.mu.Lock()
	if c.state.terminal() {
		c.mu.Unlock()
		return
	}
	c.state = final
	c.endReason = reason
	dctx := c.dctx
	turnCount := c.turnCount
	done := c.done
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if dctx != nil {
		dctx.SetPhase(discussion.PhaseEnding)
		dctx.EndSession()
		c.emit(events.New(events.TypeDiscussionEnded, dctx.SessionID(), map[string]any{
			"reason":     reason,
			"turn_count": turnCount,
			"state":      string(final),
		}))
		log.Info().
			Str("component", "controller").
			Str("session_id", dctx.SessionID()).
			Str("reason", reason).
			Int("turns", turnCount).
			Msg("discussion ended")
	}
	if done != nil {
		close(done)
	}
}

// emit publishes an event; a bus failure is logged and absorbed.
func (c *Controller) emit(e events.Event) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(context.Background(), e); err != nil {
		log.Warn().
			Str("component", "controller").
			Str("event_type", e.Type).
			Err(err).
			Msg("event publish failed")
	}
}
