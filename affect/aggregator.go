package affect

import (
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/becomeliminal/nim-buddy/core"
)

// ErrInvalidSample is returned by Add for samples that cannot be aggregated.
var ErrInvalidSample = errors.New("invalid affect sample")

// Sample is one per-utterance emotion estimate.
type Sample struct {
	Timestamp time.Time
	Speaker   core.Speaker
	Scores    core.Scores
}

// Config configures an Aggregator.
type Config struct {
	// Window is how long a sample is retained.
	// Default: 5 minutes
	Window time.Duration

	// MaxItems caps the number of retained samples; the oldest go first.
	// Default: 50
	MaxItems int

	// BlendOptions controls the decayed blend.
	BlendOptions

	// Now supplies the purge clock for Add. Default: time.Now.
	Now func() time.Time
}

// BlendOptions weighs samples in Blend.
type BlendOptions struct {
	// Decay is the time constant of the exponential recency weight
	// exp(-age/Decay).
	// Default: 60 seconds
	Decay time.Duration

	// BoostSpeaker's samples are multiplied by SpeakerBoost.
	// Default: core.SpeakerUser
	BoostSpeaker core.Speaker

	// SpeakerBoost is the extra weight for BoostSpeaker.
	// Default: 1.2
	SpeakerBoost float64
}

// DefaultBlendOptions are the weights the companion uses.
var DefaultBlendOptions = BlendOptions{
	Decay:        60 * time.Second,
	BoostSpeaker: core.SpeakerUser,
	SpeakerBoost: 1.2,
}

func (o BlendOptions) withDefaults() BlendOptions {
	if o.Decay <= 0 {
		o.Decay = DefaultBlendOptions.Decay
	}
	if o.BoostSpeaker == "" {
		o.BoostSpeaker = DefaultBlendOptions.BoostSpeaker
	}
	if o.SpeakerBoost <= 0 {
		o.SpeakerBoost = DefaultBlendOptions.SpeakerBoost
	}
	return o
}

// Aggregator keeps a bounded, time-windowed run of emotion samples and
// blends them into a current mood. It is safe for concurrent use and is
// never persisted.
type Aggregator struct {
	mu      sync.Mutex
	samples []Sample // oldest first
	window  time.Duration
	max     int
	opts    BlendOptions
	now     func() time.Time
}

// NewAggregator creates an empty Aggregator.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 50
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Aggregator{
		window: cfg.Window,
		max:    cfg.MaxItems,
		opts:   cfg.BlendOptions.withDefaults(),
		now:    cfg.Now,
	}
}

// Add appends s and purges, as one step: first everything older than the
// window, then the oldest samples beyond MaxItems. There is no background
// purge; a long idle period is caught up here.
func (a *Aggregator) Add(s Sample) error {
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSample)
	}
	if err := s.Scores.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}

	s.Speaker = s.Speaker.OrUser()
	s.Scores = s.Scores.Normalize()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples = append(a.samples, s)
	dropped := a.purge(a.now())
	if dropped > 0 {
		log.Printf("[AFFECT] Purged %d samples, %d retained", dropped, len(a.samples))
	}
	return nil
}

// purge drops expired samples, then trims to the cap from the front.
// Samples normally arrive in timestamp order, so expiry also only removes
// from the front; a late out-of-order sample is dropped wherever it sits.
// Caller holds mu.
func (a *Aggregator) purge(now time.Time) int {
	before := len(a.samples)
	cutoff := now.Add(-a.window)
	a.samples = slices.DeleteFunc(a.samples, func(s Sample) bool {
		return s.Timestamp.Before(cutoff)
	})
	if over := len(a.samples) - a.max; over > 0 {
		a.samples = slices.Delete(a.samples, 0, over)
	}
	return before - len(a.samples)
}

// Blended purges relative to now and returns the decayed blend of what is
// left. An aggregator with nothing retained reports core.Neutral with every
// label at zero.
func (a *Aggregator) Blended(now time.Time) (core.Emotion, core.Scores) {
	a.mu.Lock()
	a.purge(now)
	samples := slices.Clone(a.samples)
	a.mu.Unlock()

	return Blend(samples, now, a.opts)
}

// Len returns the number of retained samples.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}

// Samples returns a copy of the retained samples, oldest first.
func (a *Aggregator) Samples() []Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.samples)
}

// Blend computes the recency- and speaker-weighted mood of samples at now.
//
// Each sample weighs exp(-age/Decay), times SpeakerBoost when it came from
// BoostSpeaker. Ages are clamped at zero. The per-label weighted sums are
// divided by the total weight, and the top label is the maximum with ties
// resolved by core.Labels order.
func Blend(samples []Sample, now time.Time, opts BlendOptions) (core.Emotion, core.Scores) {
	opts = opts.withDefaults()

	agg := core.ZeroScores()
	var total float64
	for _, s := range samples {
		w := Weight(s, now, opts)
		for _, label := range core.Labels {
			agg[label] += s.Scores[label] * w
		}
		total += w
	}

	if total == 0 {
		return core.Neutral, core.ZeroScores()
	}

	for label := range agg {
		agg[label] /= total
	}
	return agg.Top(), agg
}

// Weight returns the blend weight of s at now.
func Weight(s Sample, now time.Time, opts BlendOptions) float64 {
	opts = opts.withDefaults()

	age := now.Sub(s.Timestamp)
	if age < 0 {
		age = 0
	}
	w := math.Exp(-age.Seconds() / opts.Decay.Seconds())
	if s.Speaker == opts.BoostSpeaker {
		w *= opts.SpeakerBoost
	}
	return w
}
