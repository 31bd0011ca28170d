package transport

import (
	"context"

	"github.com/go-agora/agora/pkg/discussion"
	"github.com/go-agora/agora/pkg/participant"
)

// TurnPayload is the serialized form of a completed turn handed to the
// transport collaborator.
type TurnPayload struct {
	MessageID       string                  `json:"message_id"`
	ParticipantID   participant.ID          `json:"participant_id"`
	ParticipantName string                  `json:"participant_name"`
	Content         string                  `json:"content"`
	TimestampMs     int64                   `json:"timestamp_ms"`
	TurnType        discussion.TurnType     `json:"turn_type"`
	Round           int                     `json:"round"`
	SVR             *discussion.SVRSnapshot `json:"svr,omitempty"`
}

// PayloadFromTurn builds the wire payload for one turn.
func PayloadFromTurn(t *discussion.Turn) TurnPayload {
	return TurnPayload{
		MessageID:       t.ID,
		ParticipantID:   t.ParticipantID,
		ParticipantName: t.ParticipantName,
		Content:         t.Content,
		TimestampMs:     t.CreatedAt.UnixMilli(),
		TurnType:        t.Type,
		Round:           t.Round,
		SVR:             t.SVR,
	}
}

// Broadcaster publishes new turns to observers. Failures are reported to
// the caller for logging only; they must never abort the discussion.
type Broadcaster interface {
	BroadcastTurn(ctx context.Context, sessionID string, p TurnPayload) error
}
