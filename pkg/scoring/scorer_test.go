package scoring

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-agora/agora/pkg/discussion"
	"github.com/go-agora/agora/pkg/participant"
)

func viewFor(id participant.ID, own, others []discussion.Turn, metrics discussion.Metrics, elapsed time.Duration) discussion.View {
	recent := append(append([]discussion.Turn{}, others...), own...)
	snap := discussion.Snapshot{
		SessionID:   "s1",
		Topic:       "adopting ai tooling in small teams",
		Phase:       discussion.PhaseOngoing,
		TurnCount:   len(recent),
		Elapsed:     elapsed,
		TakenAt:     time.Now(),
		RecentTurns: recent,
		Participants: map[participant.ID]discussion.ParticipantSummary{
			id:      {ID: id, Name: string(id)},
			"other": {ID: "other", Name: "Other"},
		},
		Metrics: metrics,
	}
	v := snap.ParticipantView(id)
	return v
}

func ownTurn(id participant.ID, content string) discussion.Turn {
	return discussion.Turn{ParticipantID: id, ParticipantName: string(id), Type: discussion.TurnResponse, Content: content, CreatedAt: time.Now()}
}

func TestScorerRateLimit_FirstCycleAnchoredToBaseline(t *testing.T) {
	// A cold view produces a raw stop near zero, but the first emitted value
	// may not jump further than maxDelta from the 0.5 baseline.
	s := NewScorer("alice", 0.2)
	res := s.Score(viewFor("alice", nil, nil, discussion.Metrics{}, 0))
	assert.InDelta(t, 0.3, res.Stop, 1e-9)

	// Subsequent cycles keep ratcheting down by at most maxDelta.
	res2 := s.Score(viewFor("alice", nil, nil, discussion.Metrics{}, 0))
	assert.LessOrEqual(t, math.Abs(res2.Stop-res.Stop), 0.2+1e-9)
}

func TestScorerRateLimit_HighRawInputIsCapped(t *testing.T) {
	s := NewScorer("alice", 0.2)
	hot := discussion.Metrics{LastGlobalStop: 1.0}
	own := []discussion.Turn{
		ownTurn("alice", "I agree completely, that makes sense, we are aligned and agreed."),
		ownTurn("alice", "Agreed."),
	}
	res := s.Score(viewFor("alice", own, nil, hot, 2*time.Hour))
	assert.LessOrEqual(t, res.Stop, 0.7+1e-9)

	prev := res.Stop
	for i := 0; i < 5; i++ {
		res = s.Score(viewFor("alice", own, nil, hot, 2*time.Hour))
		assert.LessOrEqual(t, math.Abs(res.Stop-prev), 0.2+1e-9, "cycle %d", i)
		prev = res.Stop
	}
}

func TestScorerValue_ColdStartDefault(t *testing.T) {
	s := NewScorer("alice", 0)
	res := s.Score(viewFor("alice", nil, nil, discussion.Metrics{}, 0))
	assert.InDelta(t, 75.0, res.Value, 1e-9)
	assert.InDelta(t, 1.0, res.Breakdown["value.cold_start"], 1e-9)
}

func TestScorerValue_StaysInRange(t *testing.T) {
	s := NewScorer("alice", 0)
	own := []discussion.Turn{
		ownTurn("alice", "What if we consider a scoped pilot? For example, one workflow with explicit rollback criteria, because evidence beats opinion."),
	}
	others := []discussion.Turn{ownTurn("other", "Opening statement about tooling.")}
	res := s.Score(viewFor("alice", own, others, discussion.Metrics{}, time.Minute))
	assert.GreaterOrEqual(t, res.Value, 0.0)
	assert.LessOrEqual(t, res.Value, 100.0)
	assert.Greater(t, res.Value, 20.0)
}

func TestScorerRepeatRisk_RisesForSelfRepetition(t *testing.T) {
	varied := NewScorer("alice", 0)
	variedOwn := []discussion.Turn{
		ownTurn("alice", "Costs dominate the first quarter of adoption."),
		ownTurn("alice", "Review habits shift once trust is established."),
		ownTurn("alice", "What about security posture for generated code?"),
	}
	variedRes := varied.Score(viewFor("alice", variedOwn, nil, discussion.Metrics{}, time.Minute))

	repetitive := NewScorer("bob", 0)
	line := "We should run a longer pilot before committing to anything at all."
	repOwn := []discussion.Turn{
		ownTurn("bob", line),
		ownTurn("bob", line),
		ownTurn("bob", line),
	}
	repRes := repetitive.Score(viewFor("bob", repOwn, nil, discussion.Metrics{}, time.Minute))

	assert.Greater(t, repRes.RepeatRisk, variedRes.RepeatRisk)
	assert.Greater(t, repRes.RepeatRisk, 0.5)
	assert.NotEmpty(t, repRes.Recommendations)
}

func TestScorerRepeatRisk_DominancePenalty(t *testing.T) {
	v := viewFor("alice",
		[]discussion.Turn{ownTurn("alice", "a"), ownTurn("alice", "b"), ownTurn("alice", "c")},
		[]discussion.Turn{ownTurn("other", "x")},
		discussion.Metrics{}, time.Minute)
	s := NewScorer("alice", 0)
	res := s.Score(v)
	// alice holds 75% of the window: full dominance penalty.
	assert.InDelta(t, 1.0, res.Breakdown["repeat.dominance"], 1e-9)
}

func TestScorerHistory_BoundedAndDeltasTracked(t *testing.T) {
	s := NewScorer("alice", 0)
	var prev *SVRResult
	for i := 0; i < 60; i++ {
		res := s.Score(viewFor("alice", nil, nil, discussion.Metrics{}, time.Duration(i)*time.Minute))
		if prev != nil {
			assert.InDelta(t, res.Stop-prev.Stop, res.DeltaStop, 1e-9)
		}
		prev = res
	}
	require.LessOrEqual(t, len(s.history), historyLimit)
}

func TestScorerConfidence_GrowsWithHistory(t *testing.T) {
	s := NewScorer("alice", 0)
	first := s.Score(viewFor("alice", nil, nil, discussion.Metrics{}, 0))
	var last *SVRResult
	for i := 0; i < 12; i++ {
		last = s.Score(viewFor("alice", nil, nil, discussion.Metrics{}, 0))
	}
	assert.Greater(t, last.Confidence, first.Confidence)
}

func TestNeutralResult(t *testing.T) {
	r := NeutralResult("ghost")
	assert.InDelta(t, 0.1, r.Stop, 1e-9)
	assert.InDelta(t, 45.0, r.Value, 1e-9)
	assert.InDelta(t, 0.1, r.RepeatRisk, 1e-9)
	assert.InDelta(t, 0.1, r.Confidence, 1e-9)
	assert.Equal(t, participant.ID("ghost"), r.ParticipantID)
}

func TestScorerBreakdown_CoversAllFactors(t *testing.T) {
	s := NewScorer("alice", 0)
	own := []discussion.Turn{ownTurn("alice", "I suggest we consider the evidence, because specifics matter. Thoughts?")}
	res := s.Score(viewFor("alice", own, nil, discussion.Metrics{LastGlobalStop: 0.4}, 30*time.Minute))
	for _, key := range []string{
		"stop.agreement", "stop.saturation", "stop.fatigue", "stop.global_feedback", "stop.elapsed",
		"value.latest_quality", "value.historical", "value.interaction", "value.relevance",
		"repeat.similarity", "repeat.openers", "repeat.phrases", "repeat.dominance",
	} {
		_, ok := res.Breakdown[key]
		assert.True(t, ok, fmt.Sprintf("missing breakdown key %s", key))
	}
}
