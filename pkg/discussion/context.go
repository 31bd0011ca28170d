package discussion

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-agora/agora/pkg/participant"
)

const (
	// DefaultWindowSize bounds the recent-turn window copied into snapshots.
	DefaultWindowSize = 10
	// momentumHalfLife is the inter-turn gap at which momentum decays to ~0.37.
	momentumHalfLife = 60 * time.Second
	// momentumGapWindow is how many recent gaps feed the momentum figure.
	momentumGapWindow = 5
)

var (
	ErrNilTurn          = errors.New("discussion: turn is nil")
	ErrUnknownReference = errors.New("discussion: turn references an unknown turn id")
	ErrSessionEnded     = errors.New("discussion: session already ended")
)

// Context is the single source of truth for one session's history and
// derived statistics. One mutex guards appends, snapshots, phase changes and
// the monitor-coordination timestamp; no caller holds it across a wait.
type Context struct {
	mu sync.Mutex

	session *Session
	turns   []*Turn
	turnIDs map[string]struct{}

	perParticipant map[participant.ID]int
	recentGaps     []time.Duration
	lastAppendAt   time.Time

	windowSize int
	balance    float64
	momentum   float64

	lastComputedAt time.Time
	lastGlobalStop float64
}

// NewContext creates the context and its session shell. Round 1 opens
// immediately; it stays open until the session ends.
func NewContext(sessionID, topic string, participants []participant.ID, windowSize int) *Context {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	now := time.Now()
	current := make(map[participant.ID]struct{}, len(participants))
	all := make(map[participant.ID]struct{}, len(participants))
	active := make(map[participant.ID]struct{}, len(participants))
	for _, id := range participants {
		current[id] = struct{}{}
		all[id] = struct{}{}
		active[id] = struct{}{}
	}
	sess := &Session{
		ID:                  sessionID,
		Topic:               topic,
		Phase:               PhaseStarting,
		CurrentParticipants: current,
		AllParticipants:     all,
		StartedAt:           now,
		Rounds: []*Round{{
			Number:             1,
			ActiveParticipants: active,
			StartedAt:          now,
		}},
	}
	return &Context{
		session:        sess,
		turnIDs:        map[string]struct{}{},
		perParticipant: map[participant.ID]int{},
		windowSize:     windowSize,
		balance:        1.0,
	}
}

// AddTurn appends under the exclusive lock, assigning round and sequence
// numbers exactly once. RespondingTo/TriggeredBy must reference turns that
// already exist: the log is a DAG, never a structure with forward edges.
func (c *Context) AddTurn(t *Turn) error {
	if t == nil {
		return ErrNilTurn
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.EndedAt != nil {
		return ErrSessionEnded
	}
	if t.RespondingTo != "" {
		if _, ok := c.turnIDs[t.RespondingTo]; !ok {
			return errors.Wrapf(ErrUnknownReference, "responding_to %q", t.RespondingTo)
		}
	}
	for _, ref := range t.TriggeredBy {
		if _, ok := c.turnIDs[ref]; !ok {
			return errors.Wrapf(ErrUnknownReference, "triggered_by %q", ref)
		}
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	round := c.session.Rounds[len(c.session.Rounds)-1]
	t.Round = round.Number
	t.Sequence = c.sequenceInRoundLocked(round.Number) + 1

	c.turns = append(c.turns, t)
	c.turnIDs[t.ID] = struct{}{}
	c.perParticipant[t.ParticipantID]++
	c.session.AllParticipants[t.ParticipantID] = struct{}{}

	if !c.lastAppendAt.IsZero() {
		c.recentGaps = append(c.recentGaps, now.Sub(c.lastAppendAt))
		if len(c.recentGaps) > momentumGapWindow {
			c.recentGaps = c.recentGaps[len(c.recentGaps)-momentumGapWindow:]
		}
	}
	c.lastAppendAt = now

	c.recomputeBalanceLocked()
	c.recomputeMomentumLocked()
	return nil
}

func (c *Context) sequenceInRoundLocked(round int) int {
	n := 0
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Round != round {
			break
		}
		n++
	}
	return n
}

// recomputeBalanceLocked derives participation balance as 1 minus the
// coefficient of variation of per-participant turn counts, normalized so a
// single runaway speaker drives the figure toward 0. The system author's
// seed turns are excluded.
func (c *Context) recomputeBalanceLocked() {
	counts := make([]float64, 0, len(c.perParticipant))
	for id, n := range c.perParticipant {
		if id.IsSystem() {
			continue
		}
		counts = append(counts, float64(n))
	}
	if len(counts) < 2 {
		c.balance = 1.0
		return
	}
	mean := 0.0
	for _, n := range counts {
		mean += n
	}
	mean /= float64(len(counts))
	if mean == 0 {
		c.balance = 1.0
		return
	}
	variance := 0.0
	for _, n := range counts {
		d := n - mean
		variance += d * d
	}
	variance /= float64(len(counts))
	cv := math.Sqrt(variance) / mean
	// cv of sqrt(k-1) is the worst case for k participants.
	worst := math.Sqrt(float64(len(counts) - 1))
	c.balance = clamp01(1.0 - cv/worst)
}

func (c *Context) recomputeMomentumLocked() {
	if len(c.recentGaps) == 0 {
		c.momentum = 1.0
		return
	}
	sum := 0.0
	for _, gap := range c.recentGaps {
		sum += math.Exp(-gap.Seconds() / momentumHalfLife.Seconds())
	}
	c.momentum = clamp01(sum / float64(len(c.recentGaps)))
}

// Snapshot copies the bounded recent-turn window and derived state under the
// lock and returns an immutable value. Callers never observe a half-updated
// state.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Context) snapshotLocked() Snapshot {
	now := time.Now()
	start := len(c.turns) - c.windowSize
	if start < 0 {
		start = 0
	}
	window := make([]Turn, 0, len(c.turns)-start)
	turnsInWindow := map[participant.ID]int{}
	for _, t := range c.turns[start:] {
		window = append(window, *t)
		turnsInWindow[t.ParticipantID]++
	}
	summaries := make(map[participant.ID]ParticipantSummary, len(c.session.CurrentParticipants))
	for id := range c.session.CurrentParticipants {
		summaries[id] = ParticipantSummary{
			ID:            id,
			Name:          c.displayNameLocked(id),
			TurnsInWindow: turnsInWindow[id],
		}
	}
	round := c.session.Rounds[len(c.session.Rounds)-1]
	return Snapshot{
		SessionID:    c.session.ID,
		Topic:        c.session.Topic,
		Phase:        c.session.Phase,
		Round:        round.Number,
		TurnCount:    len(c.turns),
		Elapsed:      now.Sub(c.session.StartedAt),
		TakenAt:      now,
		RecentTurns:  window,
		Participants: summaries,
		Metrics: Metrics{
			Balance:        c.balance,
			Momentum:       c.momentum,
			LastGlobalStop: c.lastGlobalStop,
			LastComputedAt: c.lastComputedAt,
		},
	}
}

func (c *Context) displayNameLocked(id participant.ID) string {
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].ParticipantID == id {
			return c.turns[i].ParticipantName
		}
	}
	return string(id)
}

// ParticipantView partitions the latest snapshot for one participant and
// counts whole-log matches for identifier-drift diagnostics. An id with no
// turns yet returns an empty-but-valid view.
func (c *Context) ParticipantView(id participant.ID) View {
	c.mu.Lock()
	snap := c.snapshotLocked()
	matched := c.perParticipant[id]
	c.mu.Unlock()

	v := snap.ParticipantView(id)
	v.MatchedTurns = matched
	if matched == 0 {
		log.Debug().
			Str("component", "discussion").
			Str("session_id", snap.SessionID).
			Str("participant_id", string(id)).
			Msg("participant view has no historical turns (cold start)")
	}
	return v
}

// SetLastComputed records the main loop's last scoring pass. The monitor
// loop reads this through the same lock as turn appends; a second lock here
// would invite ordering hazards.
func (c *Context) SetLastComputed(at time.Time, meanStop float64) {
	c.mu.Lock()
	c.lastComputedAt = at
	c.lastGlobalStop = meanStop
	c.mu.Unlock()
}

// LastComputedAt returns when the main loop last produced an aggregate.
func (c *Context) LastComputedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastComputedAt
}

// RedirectTopic steers the discussion onto a new topic. The override is
// recorded on the open round; future snapshots carry the new topic.
func (c *Context) RedirectTopic(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.EndedAt != nil {
		return
	}
	round := c.session.Rounds[len(c.session.Rounds)-1]
	round.TopicOverride = topic
	c.session.Topic = topic
}

// SetPhase transitions the session phase. The controller owns when.
func (c *Context) SetPhase(p Phase) {
	c.mu.Lock()
	c.session.Phase = p
	c.mu.Unlock()
}

// EndSession closes the open round and stamps the session end. Appends after
// this return ErrSessionEnded.
func (c *Context) EndSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.EndedAt != nil {
		return
	}
	now := time.Now()
	round := c.session.Rounds[len(c.session.Rounds)-1]
	if round.EndedAt == nil {
		round.EndedAt = &now
	}
	c.session.EndedAt = &now
	c.session.Phase = PhaseCompleted
}

// TurnCount returns the number of appended turns.
func (c *Context) TurnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// SessionID returns the immutable session identifier.
func (c *Context) SessionID() string {
	return c.session.ID
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
