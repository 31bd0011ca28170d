package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTurnStore_SaveAndList(t *testing.T) {
	s := NewMemoryTurnStore()
	ctx := context.Background()

	require.NoError(t, s.SaveTurn(ctx, rec("s1", "t1", 1, 1, "explorer", 100)))
	require.NoError(t, s.SaveTurn(ctx, rec("s1", "t2", 1, 2, "skeptic", 200)))
	require.NoError(t, s.SaveTurn(ctx, rec("s2", "t1", 1, 1, "explorer", 100)))

	items, err := s.ListTurns(ctx, TurnQuery{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, items, 2)

	items, err = s.ListTurns(ctx, TurnQuery{SessionID: "s1", ParticipantID: "skeptic"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "t2", items[0].TurnID)

	items, err = s.ListTurns(ctx, TurnQuery{SessionID: "s1", SinceMs: 150, Limit: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "t2", items[0].TurnID)
}

func TestMemoryTurnStore_Validation(t *testing.T) {
	s := NewMemoryTurnStore()
	ctx := context.Background()

	require.Error(t, s.SaveTurn(ctx, TurnRecord{TurnID: "t1"}))
	require.Error(t, s.SaveTurn(ctx, TurnRecord{SessionID: "s1"}))
	_, err := s.ListTurns(ctx, TurnQuery{})
	require.Error(t, err)
	assert.NoError(t, s.Close())
}
