package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-agora/agora/pkg/discussion"
	"github.com/go-agora/agora/pkg/participant"
)

func TestClassifyTurn(t *testing.T) {
	last := discussion.Turn{ParticipantID: "skeptic"}

	cases := []struct {
		name    string
		content string
		author  string
		want    discussion.TurnType
	}{
		{"same author supplements", "one more thing", "skeptic", discussion.TurnSupplement},
		{"summary marker", "To summarize, we agree on the rollout.", "explorer", discussion.TurnSummary},
		{"challenge opener", "However, that ignores the cost side.", "explorer", discussion.TurnChallenge},
		{"short question clarifies", "What do you mean by rollout?", "explorer", discussion.TurnClarification},
		{"plain contribution", "We should pilot this with one team first.", "explorer", discussion.TurnResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyTurn(tc.content, last, participant.ID(tc.author))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"a", "b", "a", "b"}))
	assert.Equal(t, []string{"a"}, dedupe([]string{"a"}))
	assert.Empty(t, dedupe(nil))
}
