package main

import (
	"context"
	"fmt"

	"github.com/go-agora/agora/pkg/participant"
)

// demoParticipants builds three deterministic scripted participants so the
// engine can be exercised without any model backend. Each cycles through a
// fixed set of phrasings keyed off how much transcript it has seen.
func demoParticipants() []participant.Info {
	return []participant.Info{
		scripted("explorer", "Explorer", "idea generation", []string{
			"There are a few angles worth separating here: cost, team habits, and trust in the output. Which matters most to you all?",
			"Building on that, I suggest we treat adoption as an experiment with a rollback plan. For example, pilot one workflow for two weeks.",
			"Another angle: the tooling changes the review process itself. What if reviews focused on intent instead of mechanics?",
			"I think we have mapped the main options. The trade-offs are clearer now.",
		}),
		scripted("skeptic", "Skeptic", "challenge assumptions", []string{
			"However, most adoption stories skip the failure modes. What evidence do we have that quality holds up under deadline pressure?",
			"I disagree that a pilot answers the trust question; two weeks is too short to see regressions. Consider a quarter instead.",
			"Conceding one point: the review-of-intent idea addresses my concern about rubber-stamping. That makes sense.",
			"I agree we have converged. My objections are on record and mostly answered.",
		}),
		scripted("synthesizer", "Synthesizer", "summarize and bridge", []string{
			"To bridge the two views: we could run the longer pilot the skeptic wants, scoped to the single workflow the explorer proposed.",
			"Specifically, that gives us evidence and a rollback plan at once. Does anyone object to that framing?",
			"In summary, we agree on a scoped quarter-long pilot with intent-focused reviews and explicit rollback criteria.",
			"Nothing further from me; the summary stands.",
		}),
	}
}

func scripted(id, name, role string, lines []string) participant.Info {
	turnsSeen := 0
	return participant.Info{
		ID:   participant.ID(id),
		Name: name,
		Role: role,
		Generator: participant.GeneratorFunc(func(_ context.Context, pc participant.PromptContext) (participant.Result, error) {
			idx := turnsSeen
			turnsSeen++
			if idx >= len(lines) {
				idx = len(lines) - 1
			}
			content := lines[idx]
			if len(pc.Guidance) > 0 && idx == len(lines)-1 {
				content = fmt.Sprintf("%s (noted: %s)", content, pc.Guidance[0])
			}
			return participant.Result{Content: content}, nil
		}),
	}
}
