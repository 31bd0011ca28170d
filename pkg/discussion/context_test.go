package discussion

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-agora/agora/pkg/participant"
)

func testContext(window int) *Context {
	return NewContext("s1", "testing strategies", []participant.ID{"alice", "bob", "carol"}, window)
}

func TestContextAddTurn_AssignsStrictlyIncreasingSequence(t *testing.T) {
	ctx := testContext(0)
	for i := 0; i < 5; i++ {
		turn := &Turn{ParticipantID: "alice", ParticipantName: "Alice", Type: TurnResponse, Content: fmt.Sprintf("turn %d", i)}
		require.NoError(t, ctx.AddTurn(turn))
		assert.Equal(t, 1, turn.Round)
		assert.Equal(t, i+1, turn.Sequence)
		assert.NotEmpty(t, turn.ID)
	}
}

func TestContextAddTurn_RejectsForwardReferences(t *testing.T) {
	ctx := testContext(0)
	err := ctx.AddTurn(&Turn{ParticipantID: "alice", Content: "hi", RespondingTo: "nope"})
	require.ErrorIs(t, err, ErrUnknownReference)

	err = ctx.AddTurn(&Turn{ParticipantID: "alice", Content: "hi", TriggeredBy: []string{"also-nope"}})
	require.ErrorIs(t, err, ErrUnknownReference)

	first := &Turn{ParticipantID: "alice", Content: "hi"}
	require.NoError(t, ctx.AddTurn(first))
	require.NoError(t, ctx.AddTurn(&Turn{ParticipantID: "bob", Content: "reply", RespondingTo: first.ID}))
}

func TestContextAddTurn_RejectsNilAndEndedSession(t *testing.T) {
	ctx := testContext(0)
	require.ErrorIs(t, ctx.AddTurn(nil), ErrNilTurn)

	ctx.EndSession()
	err := ctx.AddTurn(&Turn{ParticipantID: "alice", Content: "late"})
	require.ErrorIs(t, err, ErrSessionEnded)
}

func TestContextSnapshot_BoundedWindowAndCounts(t *testing.T) {
	ctx := testContext(3)
	for i := 0; i < 7; i++ {
		require.NoError(t, ctx.AddTurn(&Turn{ParticipantID: "alice", ParticipantName: "Alice", Content: fmt.Sprintf("t%d", i)}))
	}
	snap := ctx.Snapshot()
	assert.Equal(t, 7, snap.TurnCount)
	assert.Len(t, snap.RecentTurns, 3)
	assert.Equal(t, "t6", snap.RecentTurns[2].Content)
	assert.Equal(t, 3, snap.Participants["alice"].TurnsInWindow)
	assert.Equal(t, 0, snap.Participants["bob"].TurnsInWindow)
}

func TestContextSnapshot_IsImmutableCopy(t *testing.T) {
	ctx := testContext(0)
	require.NoError(t, ctx.AddTurn(&Turn{ParticipantID: "alice", Content: "original"}))
	snap := ctx.Snapshot()
	snap.RecentTurns[0].Content = "mutated"

	again := ctx.Snapshot()
	assert.Equal(t, "original", again.RecentTurns[0].Content)
}

func TestContextBalance_DropsWhenOneParticipantDominates(t *testing.T) {
	ctx := testContext(0)
	for i := 0; i < 2; i++ {
		require.NoError(t, ctx.AddTurn(&Turn{ParticipantID: "alice", Content: "a"}))
		require.NoError(t, ctx.AddTurn(&Turn{ParticipantID: "bob", Content: "b"}))
	}
	balanced := ctx.Snapshot().Metrics.Balance

	for i := 0; i < 10; i++ {
		require.NoError(t, ctx.AddTurn(&Turn{ParticipantID: "alice", Content: "more"}))
	}
	skewed := ctx.Snapshot().Metrics.Balance

	assert.Greater(t, balanced, skewed)
	assert.GreaterOrEqual(t, skewed, 0.0)
	assert.LessOrEqual(t, balanced, 1.0)
}

func TestContextParticipantView_ColdStartIsEmptyButValid(t *testing.T) {
	ctx := testContext(0)
	view := ctx.ParticipantView("carol")
	assert.Empty(t, view.OwnTurns)
	assert.Empty(t, view.OtherTurns)
	assert.Zero(t, view.MatchedTurns)
	assert.Equal(t, participant.ID("carol"), view.ParticipantID)
}

func TestContextParticipantView_CountsWholeLogMatches(t *testing.T) {
	ctx := testContext(2)
	for i := 0; i < 5; i++ {
		require.NoError(t, ctx.AddTurn(&Turn{ParticipantID: "alice", Content: "a"}))
	}
	require.NoError(t, ctx.AddTurn(&Turn{ParticipantID: "bob", Content: "b"}))

	view := ctx.ParticipantView("alice")
	// Window holds 2 turns, but the whole log has 5 matches.
	assert.Equal(t, 5, view.MatchedTurns)
	assert.LessOrEqual(t, len(view.OwnTurns), 2)
}

func TestContextRedirectTopic(t *testing.T) {
	ctx := testContext(0)
	ctx.RedirectTopic("a sharper question")
	snap := ctx.Snapshot()
	assert.Equal(t, "a sharper question", snap.Topic)
}

func TestContextEndSession_ClosesRoundOnce(t *testing.T) {
	ctx := testContext(0)
	require.NoError(t, ctx.AddTurn(&Turn{ParticipantID: "alice", Content: "a"}))
	ctx.EndSession()
	ctx.EndSession()
	snap := ctx.Snapshot()
	assert.Equal(t, PhaseCompleted, snap.Phase)
}

func TestContextLastComputed_SharedWithMetrics(t *testing.T) {
	ctx := testContext(0)
	require.True(t, ctx.LastComputedAt().IsZero())

	snap := ctx.Snapshot()
	ctx.SetLastComputed(snap.TakenAt, 0.42)

	assert.Equal(t, snap.TakenAt, ctx.LastComputedAt())
	assert.InDelta(t, 0.42, ctx.Snapshot().Metrics.LastGlobalStop, 1e-9)
}
