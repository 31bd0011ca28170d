// Package store persists completed turns for inspection and replay. The
// controller writes best-effort: a store failure is logged, never allowed
// to abort the discussion.
package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/go-agora/agora/pkg/discussion"
	"github.com/go-agora/agora/pkg/participant"
)

// TurnRecord is one persisted turn. Payload carries the full turn JSON;
// the indexed columns exist for querying.
type TurnRecord struct {
	SessionID       string
	TurnID          string
	Round           int
	Sequence        int
	ParticipantID   participant.ID
	ParticipantName string
	TurnType        discussion.TurnType
	CreatedAtMs     int64
	Payload         string
}

// TurnQuery filters stored turns.
type TurnQuery struct {
	SessionID     string
	ParticipantID participant.ID
	SinceMs       int64
	Limit         int
}

// TurnStore persists serialized turns.
type TurnStore interface {
	SaveTurn(ctx context.Context, rec TurnRecord) error
	ListTurns(ctx context.Context, q TurnQuery) ([]TurnRecord, error)
	Close() error
}

// RecordFromTurn serializes a turn into its storage record.
func RecordFromTurn(sessionID string, t *discussion.Turn) (TurnRecord, error) {
	if t == nil {
		return TurnRecord{}, errors.New("store: turn is nil")
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return TurnRecord{}, errors.Wrap(err, "store: marshal turn")
	}
	return TurnRecord{
		SessionID:       sessionID,
		TurnID:          t.ID,
		Round:           t.Round,
		Sequence:        t.Sequence,
		ParticipantID:   t.ParticipantID,
		ParticipantName: t.ParticipantName,
		TurnType:        t.Type,
		CreatedAtMs:     t.CreatedAt.UnixMilli(),
		Payload:         string(payload),
	}, nil
}
