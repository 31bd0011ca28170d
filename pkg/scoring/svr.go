package scoring

import (
	"time"

	"github.com/go-agora/agora/pkg/discussion"
	"github.com/go-agora/agora/pkg/participant"
)

// SVRResult is one scoring cycle's output for one participant.
type SVRResult struct {
	ParticipantID participant.ID `json:"participant_id"`
	// Stop estimates readiness to end the discussion, in [0,1]. Rate-limited
	// between cycles by the scorer.
	Stop float64 `json:"stop"`
	// Value estimates contribution quality, in [0,100].
	Value float64 `json:"value"`
	// RepeatRisk estimates self-repetition, in [0,1].
	RepeatRisk float64 `json:"repeat_risk"`
	Confidence float64 `json:"confidence"`
	// Composite blends the three signals into a continuation-worthiness
	// figure used for reporting, never for selection or stopping.
	Composite float64 `json:"composite"`

	DeltaStop   float64 `json:"delta_stop"`
	DeltaValue  float64 `json:"delta_value"`
	DeltaRepeat float64 `json:"delta_repeat"`

	Breakdown       map[string]float64 `json:"breakdown,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
	ComputedAt      time.Time          `json:"computed_at"`
}

// Snapshot converts the result into the compact form captured on turns.
func (r *SVRResult) Snapshot() *discussion.SVRSnapshot {
	if r == nil {
		return nil
	}
	return &discussion.SVRSnapshot{
		Stop:       r.Stop,
		Value:      r.Value,
		RepeatRisk: r.RepeatRisk,
		Confidence: r.Confidence,
	}
}

// NeutralResult is the safe default substituted when a scorer fails
// internally. Failures must never crash the cycle for other participants.
func NeutralResult(id participant.ID) *SVRResult {
	r := &SVRResult{
		ParticipantID: id,
		Stop:          0.1,
		Value:         45,
		RepeatRisk:    0.1,
		Confidence:    0.1,
		ComputedAt:    time.Now(),
		Breakdown:     map[string]float64{"neutral_fallback": 1},
	}
	r.Composite = composite(r.Stop, r.Value, r.RepeatRisk)
	return r
}

func composite(stop, value, repeat float64) float64 {
	return 0.4*(value/100) + 0.35*(1-repeat) + 0.25*(1-stop)
}

// Stats describes one aggregate computation.
type Stats struct {
	Elapsed        time.Duration             `json:"elapsed"`
	Succeeded      int                       `json:"succeeded"`
	Failed         int                       `json:"failed"`
	TimedOut       int                       `json:"timed_out"`
	PerParticipant map[participant.ID]string `json:"per_participant,omitempty"`
}

// AggregateResult is the session-wide output of one scoring cycle.
type AggregateResult struct {
	ComputedAt time.Time                        `json:"computed_at"`
	Results    map[participant.ID]*SVRResult    `json:"results"`
	// MeanStop is the arithmetic mean of all returned Stop values. It is the
	// sole signal the decision policy consumes.
	MeanStop float64 `json:"mean_stop"`
	// Quality is reported for observability only and never gates decisions.
	Quality          float64 `json:"quality"`
	ParticipantCount int     `json:"participant_count"`
	Stats            Stats   `json:"stats"`
}
