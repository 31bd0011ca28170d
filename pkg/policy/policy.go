// Package policy turns a scoring aggregate into a per-cycle decision:
// stop, continue with a selected speaker, or pause. The stop threshold
// self-tunes from recent decision history only, never from content.
package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-agora/agora/pkg/participant"
	"github.com/go-agora/agora/pkg/scoring"
)

// Action is the per-cycle outcome.
type Action string

const (
	ActionContinue Action = "continue"
	ActionStop     Action = "stop"
	ActionPause    Action = "pause"
	ActionRedirect Action = "redirect"
)

// ReasonNoSuitableAgent is attached to the pause emitted when no
// participant can be selected at all.
const ReasonNoSuitableAgent = "no_suitable_agent"

// Decision is the policy output for one cycle. A stop decision is terminal
// for the session.
type Decision struct {
	Action          Action         `json:"action"`
	ParticipantID   participant.ID `json:"participant_id,omitempty"`
	ParticipantName string         `json:"participant_name,omitempty"`
	Confidence      float64        `json:"confidence"`
	Reasons         []string       `json:"reasons"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	DecidedAt       time.Time      `json:"decided_at"`
}

const (
	// DefaultStopThreshold is the initial adaptive stop threshold.
	DefaultStopThreshold = 0.8
	thresholdCeiling     = 0.95
	thresholdFloor       = 0.6
	thresholdStep        = 0.05
	// adjustEvery is how many decisions between threshold reviews.
	adjustEvery = 10
	// historyLimit bounds the decision history used for self-tuning.
	historyLimit = 100
)

// Policy decides stop/continue/pause per cycle, purely as a function of the
// aggregate, and self-tunes its stop threshold from decision history.
type Policy struct {
	mu sync.Mutex

	threshold   float64
	history     []Action
	sinceAdjust int
}

// New creates a policy. A threshold of zero or less selects the default.
func New(threshold float64) *Policy {
	if threshold <= 0 {
		threshold = DefaultStopThreshold
	}
	return &Policy{threshold: threshold}
}

// Threshold returns the current adaptive stop threshold.
func (p *Policy) Threshold() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threshold
}

// Decide consumes one aggregate and returns exactly one decision.
//
// Order of evaluation:
//  1. empty participant set: pause with reason "no_suitable_agent";
//  2. mean stop at or above the adaptive threshold: stop (terminal);
//  3. otherwise continue with the highest-Value participant, falling back
//     deterministically to the first registered participant on cold start.
func (p *Policy) Decide(agg *scoring.AggregateResult, reg *participant.Registry) *Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	d := &Decision{
		DecidedAt: time.Now(),
		Metadata:  map[string]any{},
	}

	if reg.Len() == 0 {
		d.Action = ActionPause
		d.Confidence = 1
		d.Reasons = []string{ReasonNoSuitableAgent}
		p.recordLocked(d.Action)
		return d
	}

	meanStop := 0.0
	if agg != nil {
		meanStop = agg.MeanStop
	}
	d.Metadata["stop_threshold"] = p.threshold
	d.Metadata["mean_stop"] = meanStop

	if agg != nil && len(agg.Results) > 0 && meanStop >= p.threshold {
		d.Action = ActionStop
		d.Confidence = clamp01(meanStop)
		d.Reasons = []string{
			fmt.Sprintf("mean stop value %.3f reached threshold %.2f", meanStop, p.threshold),
		}
		p.recordLocked(d.Action)
		return d
	}

	selected, basis := selectSpeaker(agg, reg)
	info, _ := reg.Get(selected)
	d.Action = ActionContinue
	d.ParticipantID = info.ID
	d.ParticipantName = info.Name
	d.Metadata["selection_basis"] = basis
	if agg != nil {
		if res, ok := agg.Results[selected]; ok {
			d.Confidence = clamp01(res.Confidence)
			d.Reasons = append(d.Reasons,
				fmt.Sprintf("highest value score %.1f", res.Value))
		}
	}
	if len(d.Reasons) == 0 {
		d.Confidence = 0.5
		d.Reasons = append(d.Reasons, "cold start: first registered participant")
	}
	p.recordLocked(d.Action)
	return d
}

// selectSpeaker picks the highest-V participant; ties break by registration
// order because the iteration follows reg.IDs(). With no results yet the
// first registered participant wins, which keeps cold start deterministic.
func selectSpeaker(agg *scoring.AggregateResult, reg *participant.Registry) (participant.ID, string) {
	ids := reg.IDs()
	if agg == nil || len(agg.Results) == 0 {
		return ids[0], "cold_start"
	}
	var (
		best      participant.ID
		bestValue = -1.0
	)
	for _, id := range ids {
		res, ok := agg.Results[id]
		if !ok {
			continue
		}
		if res.Value > bestValue {
			best = id
			bestValue = res.Value
		}
	}
	if best == "" {
		return ids[0], "cold_start"
	}
	return best, "highest_value"
}

// recordLocked appends to the bounded decision history and reviews the
// threshold every adjustEvery decisions: mostly-stop history relaxes the
// threshold upward, rarely-stop history tightens it downward.
func (p *Policy) recordLocked(a Action) {
	p.history = append(p.history, a)
	if len(p.history) > historyLimit {
		p.history = p.history[len(p.history)-historyLimit:]
	}
	p.sinceAdjust++
	if p.sinceAdjust < adjustEvery {
		return
	}
	p.sinceAdjust = 0

	window := p.history
	if len(window) > adjustEvery {
		window = window[len(window)-adjustEvery:]
	}
	stops := 0
	for _, act := range window {
		if act == ActionStop {
			stops++
		}
	}
	ratio := float64(stops) / float64(len(window))
	before := p.threshold
	switch {
	case ratio > 0.7:
		p.threshold += thresholdStep
		if p.threshold > thresholdCeiling {
			p.threshold = thresholdCeiling
		}
	case ratio < 0.2:
		p.threshold -= thresholdStep
		if p.threshold < thresholdFloor {
			p.threshold = thresholdFloor
		}
	}
	if p.threshold != before {
		log.Info().
			Str("component", "policy").
			Float64("stop_ratio", ratio).
			Float64("old_threshold", before).
			Float64("new_threshold", p.threshold).
			Msg("adjusted stop threshold")
	}
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
