package affect_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-buddy/affect"
	"github.com/becomeliminal/nim-buddy/core"
)

// clock is a settable time source for the purge.
type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newAggregator(window time.Duration, max int) (*affect.Aggregator, *clock) {
	c := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	return affect.NewAggregator(affect.Config{Window: window, MaxItems: max, Now: c.Now}), c
}

func TestAggregator_SingleJoySample(t *testing.T) {
	agg, c := newAggregator(time.Hour, 10)

	require.NoError(t, agg.Add(affect.Sample{
		Timestamp: c.now,
		Speaker:   core.SpeakerUser,
		Scores:    core.Scores{core.Joy: 1.0},
	}))

	top, scores := agg.Blended(c.now)
	assert.Equal(t, core.Joy, top)
	assert.InDelta(t, 1.0, scores[core.Joy], 1e-9)
	for _, l := range core.Labels {
		if l != core.Joy {
			assert.InDelta(t, 0.0, scores[l], 1e-9, l)
		}
	}
}

func TestAggregator_EmptyIsNeutralWithZeroMap(t *testing.T) {
	agg, c := newAggregator(time.Minute, 10)

	top, scores := agg.Blended(c.now)
	assert.Equal(t, core.Neutral, top)
	require.Len(t, scores, len(core.Labels))
	for _, l := range core.Labels {
		assert.Zero(t, scores[l])
	}
}

func TestAggregator_BlendedPurgesBeforeBlending(t *testing.T) {
	agg, c := newAggregator(time.Minute, 10)
	require.NoError(t, agg.Add(affect.Sample{Timestamp: c.now, Speaker: core.SpeakerUser, Scores: core.Scores{core.Anger: 1}}))

	top, scores := agg.Blended(c.now.Add(2 * time.Minute))
	assert.Equal(t, core.Neutral, top)
	assert.Zero(t, scores[core.Anger])
	assert.Equal(t, 0, agg.Len())
}

func TestAggregator_PurgeMonotonicity(t *testing.T) {
	window := 30 * time.Second
	agg, c := newAggregator(window, 5)

	steps := []time.Duration{0, 5 * time.Second, 10 * time.Second, time.Second, 40 * time.Second,
		2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}
	for i, step := range steps {
		c.advance(step)
		require.NoError(t, agg.Add(affect.Sample{
			Timestamp: c.now,
			Speaker:   core.SpeakerUser,
			Scores:    core.Scores{core.Calm: 1},
		}))

		samples := agg.Samples()
		assert.LessOrEqual(t, len(samples), 5, "step %d", i)
		for _, s := range samples {
			assert.LessOrEqual(t, c.now.Sub(s.Timestamp), window, "step %d", i)
		}
	}
}

func TestAggregator_CapEvictsOldestFirst(t *testing.T) {
	agg, c := newAggregator(time.Hour, 3)

	for i := 0; i < 5; i++ {
		c.advance(time.Second)
		require.NoError(t, agg.Add(affect.Sample{Timestamp: c.now, Speaker: core.SpeakerUser, Scores: core.Scores{core.Joy: 1}}))
	}

	samples := agg.Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, c.now.Add(-2*time.Second), samples[0].Timestamp)
	assert.Equal(t, c.now, samples[2].Timestamp)
}

func TestAggregator_IdleCatchUpOnAdd(t *testing.T) {
	agg, c := newAggregator(time.Minute, 50)
	for i := 0; i < 10; i++ {
		require.NoError(t, agg.Add(affect.Sample{Timestamp: c.now, Speaker: core.SpeakerUser, Scores: core.Scores{core.Fear: 1}}))
	}

	c.advance(time.Hour)
	require.NoError(t, agg.Add(affect.Sample{Timestamp: c.now, Speaker: core.SpeakerUser, Scores: core.Scores{core.Joy: 1}}))

	assert.Equal(t, 1, agg.Len())
	top, _ := agg.Blended(c.now)
	assert.Equal(t, core.Joy, top)
}

func TestAggregator_UserBoost(t *testing.T) {
	agg, c := newAggregator(time.Hour, 10)
	t0 := c.now

	user := affect.Sample{Timestamp: t0, Speaker: core.SpeakerUser, Scores: core.Scores{core.Anger: 0.9, core.Neutral: 0.1}}
	buddy := affect.Sample{Timestamp: t0.Add(time.Second), Speaker: "buddy", Scores: core.Scores{core.Calm: 0.9, core.Neutral: 0.1}}

	c.advance(time.Second)
	require.NoError(t, agg.Add(user))
	require.NoError(t, agg.Add(buddy))

	// At equal age the user's sample weighs 1.2x the other speaker's.
	opts := affect.DefaultBlendOptions
	sameAge := buddy
	sameAge.Speaker = core.SpeakerUser
	assert.InDelta(t, 1.2*affect.Weight(buddy, c.now, opts), affect.Weight(sameAge, c.now, opts), 1e-12)

	top, scores := agg.Blended(c.now)

	wUser := 1.2 * math.Exp(-1.0/60)
	wBuddy := 1.0
	total := wUser + wBuddy
	assert.InDelta(t, 0.9*wUser/total, scores[core.Anger], 1e-9)
	assert.InDelta(t, 0.9*wBuddy/total, scores[core.Calm], 1e-9)
	assert.InDelta(t, 0.1, scores[core.Neutral], 1e-9)

	// An unweighted average ties anger and calm, and calm would win the
	// tie; the boost is what puts anger on top.
	assert.Equal(t, core.Anger, top)
	unboosted, _ := affect.Blend(agg.Samples(), c.now, affect.BlendOptions{SpeakerBoost: 1, BoostSpeaker: core.SpeakerUser})
	assert.Equal(t, core.Calm, unboosted)
}

func TestBlend_TiesFollowLabelOrder(t *testing.T) {
	now := time.Now()
	samples := []affect.Sample{{Timestamp: now, Speaker: "x", Scores: core.Scores{core.Surprise: 0.5, core.Sadness: 0.5}}}

	top, _ := affect.Blend(samples, now, affect.DefaultBlendOptions)
	assert.Equal(t, core.Sadness, top)
}

func TestBlend_FutureSamplesAreNotAmplified(t *testing.T) {
	now := time.Now()
	s := affect.Sample{Timestamp: now.Add(time.Hour), Speaker: "x", Scores: core.Scores{core.Joy: 1}}

	assert.InDelta(t, 1.0, affect.Weight(s, now, affect.DefaultBlendOptions), 1e-12)
}

func TestAggregator_RejectsInvalidSamples(t *testing.T) {
	agg, c := newAggregator(time.Hour, 10)

	err := agg.Add(affect.Sample{Speaker: core.SpeakerUser, Scores: core.Scores{core.Joy: 1}})
	assert.ErrorIs(t, err, affect.ErrInvalidSample)

	err = agg.Add(affect.Sample{Timestamp: c.now, Speaker: core.SpeakerUser})
	assert.ErrorIs(t, err, affect.ErrInvalidSample)

	err = agg.Add(affect.Sample{Timestamp: c.now, Speaker: core.SpeakerUser, Scores: core.Scores{core.Joy: math.Inf(1)}})
	assert.ErrorIs(t, err, affect.ErrInvalidSample)

	assert.Equal(t, 0, agg.Len())
}
