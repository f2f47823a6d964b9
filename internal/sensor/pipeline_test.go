package sensor

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedADC struct {
	samples []Sample
	i       int
	err     error
}

func (a *scriptedADC) Sample() (Sample, error) {
	if a.err != nil {
		return Sample{}, a.err
	}
	s := a.samples[a.i%len(a.samples)]
	a.i++
	return s, nil
}

func TestPipelineMeanOfWindowOnly(t *testing.T) {
	p := NewPipeline(&scriptedADC{samples: []Sample{{0, 0, 0}}})
	rng := rand.New(rand.NewPCG(1, 2))

	for round := 0; round < 20; round++ {
		n := 1 + rng.IntN(50)
		var sums [Channels]float64
		for i := 0; i < n; i++ {
			var s Sample
			for c := range s {
				s[c] = uint16(rng.IntN(MaxCount + 1))
				sums[c] += float64(s[c])
			}
			p.Add(s)
		}
		require.True(t, p.Flush(time.Unix(int64(round), 0)))

		e, err := p.Latest()
		require.NoError(t, err)
		assert.Equal(t, n, e.Samples)
		for c := range sums {
			assert.InDelta(t, sums[c]/float64(n), e.Mean[c], 1e-9)
		}
		assert.Equal(t, 0, p.Pending(), "accumulator resets after emission")
	}
}

func TestPipelineStepSpacingAndWindow(t *testing.T) {
	adc := &scriptedADC{samples: []Sample{{10, 20, 30}, {20, 40, 60}}}
	var emitted []Emission
	p := NewPipeline(adc,
		WithSpacing(2*time.Millisecond),
		WithWindow(10*time.Millisecond),
		WithOnEmit(func(e Emission) { emitted = append(emitted, e) }),
	)

	start := time.Unix(1700000000, 0)
	// 1ms 步进：只有每 2ms 一次采样
	for ms := 0; ms < 10; ms++ {
		ok, err := p.Step(start.Add(time.Duration(ms) * time.Millisecond))
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 5, p.Pending())

	ok, err := p.Step(start.Add(10 * time.Millisecond))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, emitted, 1)
	assert.Equal(t, 6, emitted[0].Samples)
	assert.Equal(t, Triple{15, 30, 45}, emitted[0].Mean)
	assert.Equal(t, [Channels]uint32{15, 30, 45}, emitted[0].Mean.Wire())
}

func TestPipelineLatestBeforeEmission(t *testing.T) {
	p := NewPipeline(&scriptedADC{samples: []Sample{{1, 2, 3}}})
	_, err := p.Latest()
	assert.ErrorIs(t, err, ErrNoSample)
	assert.False(t, p.Flush(time.Now()), "empty window does not emit")
}

func TestPipelineSampleError(t *testing.T) {
	boom := errors.New("adc offline")
	p := NewPipeline(&scriptedADC{err: boom})
	_, err := p.Step(time.Now())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, p.SampleErrors())
	assert.Equal(t, 0, p.Pending())
}

func TestTripleWireTruncates(t *testing.T) {
	assert.Equal(t, [Channels]uint32{1, 2047, 0}, Triple{1.9, 2047.5, -3}.Wire())
}

func TestSimADCStaysInRange(t *testing.T) {
	adc := NewSimADC(Sample{0, 2048, MaxCount}, 50, 7)
	for i := 0; i < 1000; i++ {
		s, err := adc.Sample()
		require.NoError(t, err)
		assert.LessOrEqual(t, s[0], uint16(50))
		assert.InDelta(t, 2048, float64(s[1]), 50)
		assert.GreaterOrEqual(t, s[2], uint16(MaxCount-50))
		assert.LessOrEqual(t, s[2], uint16(MaxCount))
	}
}
