package scoring

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-agora/agora/pkg/discussion"
	"github.com/go-agora/agora/pkg/participant"
)

const (
	// historyLimit bounds the per-scorer result history used for deltas,
	// confidence, and stability.
	historyLimit = 50
	// DefaultMaxStopDelta is the anti-oscillation bound: an emitted stop
	// value may not move more than this per cycle.
	DefaultMaxStopDelta = 0.2
	// stopBaseline anchors the very first emitted stop value.
	stopBaseline = 0.5
	// coldStartValue keeps a participant with zero turns competitive in the
	// first selection round.
	coldStartValue = 75.0
	// stabilityWindow is how many past cycles feed score stability.
	stabilityWindow = 5
)

// Scorer computes S/V/R for exactly one participant. Score is a pure
// function of (snapshot view, own history); the history is private to the
// scorer and needs no lock because the engine hands a scorer to at most one
// goroutine at a time, even across cycles when a call outlives its deadline.
type Scorer struct {
	id           participant.ID
	maxStopDelta float64

	history []*SVRResult
	// prevStop is the last emitted (rate-limited) stop value.
	prevStop    float64
	hasPrevStop bool
}

// NewScorer creates a scorer for one participant. A maxStopDelta of zero or
// less selects the default.
func NewScorer(id participant.ID, maxStopDelta float64) *Scorer {
	if maxStopDelta <= 0 {
		maxStopDelta = DefaultMaxStopDelta
	}
	return &Scorer{id: id, maxStopDelta: maxStopDelta}
}

// ID returns the participant this scorer belongs to.
func (s *Scorer) ID() participant.ID { return s.id }

// LastEmittedStop returns the previous cycle's rate-limited stop value.
func (s *Scorer) LastEmittedStop() (float64, bool) {
	return s.prevStop, s.hasPrevStop
}

// Score computes a fresh SVRResult from the view and the scorer's history,
// then appends it to the bounded history. Internal failures produce the
// neutral result instead of propagating.
func (s *Scorer) Score(view discussion.View) (result *SVRResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("component", "scoring").
				Str("participant_id", string(s.id)).
				Any("panic", r).
				Msg("scorer panicked, substituting neutral result")
			result = NeutralResult(s.id)
			s.record(result)
		}
	}()

	result = &SVRResult{
		ParticipantID: s.id,
		ComputedAt:    time.Now(),
		Breakdown:     map[string]float64{},
	}

	result.Stop = s.computeStop(view, result.Breakdown)
	result.Value = s.computeValue(view, result.Breakdown)
	result.RepeatRisk = s.computeRepeatRisk(view, result.Breakdown)
	result.Confidence = s.computeConfidence(view)
	result.Composite = composite(result.Stop, result.Value, result.RepeatRisk)
	result.Recommendations = s.recommend(result)

	if prev := s.last(); prev != nil {
		result.DeltaStop = result.Stop - prev.Stop
		result.DeltaValue = result.Value - prev.Value
		result.DeltaRepeat = result.RepeatRisk - prev.RepeatRisk
	}

	s.record(result)
	return result
}

func (s *Scorer) last() *SVRResult {
	if len(s.history) == 0 {
		return nil
	}
	return s.history[len(s.history)-1]
}

func (s *Scorer) record(r *SVRResult) {
	s.prevStop = r.Stop
	s.hasPrevStop = true
	s.history = append(s.history, r)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

// computeStop is a weighted sum of five factors, then rate-limited against
// the previous emitted value (or the 0.5 baseline on the first cycle) so the
// signal cannot oscillate faster than maxStopDelta per cycle.
func (s *Scorer) computeStop(view discussion.View, breakdown map[string]float64) float64 {
	agreement := markerDensityOverTurns(view.OwnTurns, agreementMarkers)
	saturation := saturationFactor(view.OwnTurns)
	fatigue := fatigueFactor(view.OwnTurns)
	feedback := clamp01(view.Snapshot.Metrics.LastGlobalStop)
	elapsed := clamp01(view.Snapshot.Elapsed.Hours())

	raw := 0.3*agreement + 0.25*saturation + 0.2*fatigue + 0.15*feedback + 0.1*elapsed

	anchor := stopBaseline
	if s.hasPrevStop {
		anchor = s.prevStop
	}
	limited := rateLimit(raw, anchor, s.maxStopDelta)

	breakdown["stop.agreement"] = agreement
	breakdown["stop.saturation"] = saturation
	breakdown["stop.fatigue"] = fatigue
	breakdown["stop.global_feedback"] = feedback
	breakdown["stop.elapsed"] = elapsed
	breakdown["stop.raw"] = raw
	return limited
}

func rateLimit(raw, anchor, maxDelta float64) float64 {
	if raw > anchor+maxDelta {
		return clamp01(anchor + maxDelta)
	}
	if raw < anchor-maxDelta {
		return clamp01(anchor - maxDelta)
	}
	return clamp01(raw)
}

func markerDensityOverTurns(turns []discussion.Turn, markers []string) float64 {
	if len(turns) == 0 {
		return 0
	}
	vals := make([]float64, 0, len(turns))
	for _, t := range recentTurns(turns, 3) {
		vals = append(vals, markerDensity(t.Content, markers))
	}
	return mean(vals)
}

// saturationFactor compares recent turn lengths against early ones: when a
// participant's contributions shrink relative to its opening, the topic is
// saturating for it.
func saturationFactor(turns []discussion.Turn) float64 {
	if len(turns) < 2 {
		return 0
	}
	half := len(turns) / 2
	early := avgLen(turns[:half])
	recent := avgLen(turns[half:])
	if early == 0 {
		return 0
	}
	return clamp01(1 - recent/early)
}

// fatigueFactor rises as the last turns get brief.
func fatigueFactor(turns []discussion.Turn) float64 {
	recent := recentTurns(turns, 2)
	if len(recent) == 0 {
		return 0
	}
	const comfortable = 200.0
	return clamp01(1 - avgLen(recent)/comfortable)
}

func avgLen(turns []discussion.Turn) float64 {
	if len(turns) == 0 {
		return 0
	}
	total := 0
	for _, t := range turns {
		total += len([]rune(t.Content))
	}
	return float64(total) / float64(len(turns))
}

func recentTurns(turns []discussion.Turn, n int) []discussion.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// computeValue blends latest-turn quality, historical quality, interaction
// potential and topical relevance into [0,100]. Zero turns yields the fixed
// cold-start default.
func (s *Scorer) computeValue(view discussion.View, breakdown map[string]float64) float64 {
	if len(view.OwnTurns) == 0 {
		breakdown["value.cold_start"] = 1
		return coldStartValue
	}
	latest := view.OwnTurns[len(view.OwnTurns)-1]

	latestQuality := turnQuality(latest, view)
	histVals := make([]float64, 0, len(view.OwnTurns))
	for _, t := range view.OwnTurns {
		histVals = append(histVals, turnQuality(t, view))
	}
	historical := mean(histVals)
	interaction := interactionPotential(view)
	relevance := jaccard(latest.Content, view.Snapshot.Topic)

	breakdown["value.latest_quality"] = latestQuality
	breakdown["value.historical"] = historical
	breakdown["value.interaction"] = interaction
	breakdown["value.relevance"] = relevance

	v := 0.4*latestQuality + 0.3*historical + 0.2*interaction + 0.1*relevance
	return clamp01(v) * 100
}

func turnQuality(t discussion.Turn, view discussion.View) float64 {
	length := lengthAppropriateness(t.Content)
	questions := clamp01(float64(questionCount(t.Content)) / 2)
	references := 0.0
	if t.RespondingTo != "" || len(t.TriggeredBy) > 0 {
		references = 1.0
	} else {
		lower := t.Content
		for _, other := range view.Snapshot.Participants {
			if other.ID == t.ParticipantID {
				continue
			}
			if other.Name != "" && containsFold(lower, other.Name) {
				references = 1.0
				break
			}
		}
	}
	constructive := markerDensity(t.Content, constructiveMarkers)
	return clamp01(0.35*length + 0.2*questions + 0.25*references + 0.2*constructive)
}

func interactionPotential(view discussion.View) float64 {
	if len(view.OwnTurns) == 0 {
		return 0.5
	}
	linked := 0
	questions := 0
	for _, t := range view.OwnTurns {
		if t.RespondingTo != "" || len(t.TriggeredBy) > 0 {
			linked++
		}
		if questionCount(t.Content) > 0 {
			questions++
		}
	}
	linkRate := float64(linked) / float64(len(view.OwnTurns))
	questionRate := float64(questions) / float64(len(view.OwnTurns))
	return clamp01(0.6*linkRate + 0.4*questionRate)
}

// computeRepeatRisk blends self-similarity, opener repetition, recycled
// phrases, and a frequency-dominance penalty.
func (s *Scorer) computeRepeatRisk(view discussion.View, breakdown map[string]float64) float64 {
	if len(view.OwnTurns) == 0 {
		return 0
	}
	latest := view.OwnTurns[len(view.OwnTurns)-1]
	prior := view.OwnTurns[:len(view.OwnTurns)-1]

	similarity := 0.0
	for _, t := range recentTurns(prior, 3) {
		if sim := jaccard(latest.Content, t.Content); sim > similarity {
			similarity = sim
		}
	}

	openers := openerRepetition(view.OwnTurns)
	phrases := 0.0
	for _, t := range recentTurns(prior, 3) {
		if r := sharedNgramRatio(latest.Content, t.Content, 3); r > phrases {
			phrases = r
		}
	}
	dominance := dominancePenalty(view)

	breakdown["repeat.similarity"] = similarity
	breakdown["repeat.openers"] = openers
	breakdown["repeat.phrases"] = phrases
	breakdown["repeat.dominance"] = dominance

	return clamp01(0.4*similarity + 0.3*openers + 0.2*phrases + 0.1*dominance)
}

func openerRepetition(turns []discussion.Turn) float64 {
	if len(turns) < 2 {
		return 0
	}
	recent := recentTurns(turns, 4)
	seen := map[string]int{}
	for _, t := range recent {
		if o := opener(t.Content); o != "" {
			seen[o]++
		}
	}
	maxCount := 0
	for _, n := range seen {
		if n > maxCount {
			maxCount = n
		}
	}
	if maxCount <= 1 {
		return 0
	}
	return clamp01(float64(maxCount-1) / float64(len(recent)-1))
}

// dominancePenalty ramps from 0 at a 30% share of all turns to 1 at 50%.
func dominancePenalty(view discussion.View) float64 {
	total := len(view.OwnTurns) + len(view.OtherTurns)
	if total == 0 {
		return 0
	}
	share := float64(len(view.OwnTurns)) / float64(total)
	if share <= 0.3 {
		return 0
	}
	if share >= 0.5 {
		return 1
	}
	return (share - 0.3) / 0.2
}

// computeConfidence blends data sufficiency, recency, and score stability
// across the last few cycles.
func (s *Scorer) computeConfidence(view discussion.View) float64 {
	sufficiency := clamp01(float64(len(s.history)) / 10)

	recency := 0.5
	if last, ok := view.Snapshot.LastTurn(); ok {
		age := view.Snapshot.TakenAt.Sub(last.CreatedAt)
		recency = clamp01(1 - age.Minutes()/10)
	}

	stability := 1.0
	if n := len(s.history); n >= 2 {
		start := n - stabilityWindow
		if start < 0 {
			start = 0
		}
		stops := make([]float64, 0, n-start)
		for _, r := range s.history[start:] {
			stops = append(stops, r.Stop)
		}
		stability = clamp01(1 - stddev(stops)*2)
	}

	return clamp01(0.4*sufficiency + 0.3*recency + 0.3*stability)
}

func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	variance := 0.0
	for _, v := range vals {
		d := v - m
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(vals)))
}

func (s *Scorer) recommend(r *SVRResult) []string {
	var recs []string
	if r.RepeatRisk > 0.6 {
		recs = append(recs, "vary phrasing and avoid repeating earlier points")
	}
	if r.Breakdown["repeat.openers"] > 0.5 {
		recs = append(recs, "vary sentence openers")
	}
	if r.Breakdown["value.interaction"] < 0.3 && r.Breakdown["value.cold_start"] == 0 {
		recs = append(recs, "engage directly with other participants' turns")
	}
	if r.Breakdown["value.relevance"] < 0.1 && r.Breakdown["value.cold_start"] == 0 {
		recs = append(recs, "tie the next contribution back to the topic")
	}
	return recs
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	h := tokenSet(tokenize(haystack))
	for _, n := range tokenize(needle) {
		if _, ok := h[n]; !ok {
			return false
		}
	}
	return true
}
