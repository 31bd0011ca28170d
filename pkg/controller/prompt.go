package controller

import (
	"fmt"
	"strings"

	"github.com/go-agora/agora/pkg/discussion"
	"github.com/go-agora/agora/pkg/participant"
	"github.com/go-agora/agora/pkg/policy"
	"github.com/go-agora/agora/pkg/scoring"
)

// buildPromptContext assembles what the selected participant sees: the
// topic, the recent transcript, and guidance derived from its own scoring
// signals (for example "avoid repetition" when repeat risk ran high).
func (c *Controller) buildPromptContext(snap discussion.Snapshot, dec *policy.Decision, agg *scoring.AggregateResult) participant.PromptContext {
	recent := make([]participant.PromptTurn, 0, len(snap.RecentTurns))
	for _, t := range snap.RecentTurns {
		recent = append(recent, participant.PromptTurn{
			ParticipantID:   t.ParticipantID,
			ParticipantName: t.ParticipantName,
			Type:            string(t.Type),
			Content:         t.Content,
		})
	}

	var guidance []string
	if res, ok := agg.Results[dec.ParticipantID]; ok {
		if res.RepeatRisk > 0.6 {
			guidance = append(guidance, "avoid repeating your earlier points")
		}
		guidance = append(guidance, res.Recommendations...)
	}
	if snap.Metrics.Balance < 0.4 {
		guidance = append(guidance, "leave room for quieter participants")
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "The discussion topic is: %s.\n", snap.Topic)
	if last, ok := snap.LastTurn(); ok {
		fmt.Fprintf(&prompt, "Respond to %s's last contribution.", last.ParticipantName)
	} else {
		prompt.WriteString("Open the discussion with your perspective.")
	}

	return participant.PromptContext{
		SessionID:   snap.SessionID,
		Topic:       snap.Topic,
		Prompt:      prompt.String(),
		Guidance:    dedupe(guidance),
		RecentTurns: recent,
		Metadata: map[string]any{
			"phase":      string(snap.Phase),
			"turn_count": snap.TurnCount,
			"mean_stop":  agg.MeanStop,
		},
	}
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// classifyTurn derives the turn type from the content and its position.
// The classification is heuristic and only informs observers; the
// scheduling logic never branches on it.
func classifyTurn(content string, last discussion.Turn, author participant.ID) discussion.TurnType {
	lower := strings.ToLower(content)
	switch {
	case last.ParticipantID == author:
		return discussion.TurnSupplement
	case strings.Contains(lower, "to summarize") || strings.Contains(lower, "in summary"):
		return discussion.TurnSummary
	case hasChallengeOpener(lower):
		return discussion.TurnChallenge
	case strings.Count(content, "?") > 0 && len(content) < 160:
		return discussion.TurnClarification
	default:
		return discussion.TurnResponse
	}
}

func hasChallengeOpener(lower string) bool {
	for _, marker := range []string{"however", "i disagree", "on the contrary", "but "} {
		if strings.HasPrefix(lower, marker) {
			return true
		}
	}
	return false
}
