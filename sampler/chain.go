package sampler

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/CraigKelly/ptgibbs/buffer"
)

// Sink receives every post burn-in sample of a chain
type Sink func(sweep int, st State) error

// Chain provides functionality around a Gibbs sampler.
type Chain struct {
	Sampler          Sampler
	BurnIn           int
	TotalSampleCount int64
	LastSample       State
	AmpHistory       [][]*buffer.CircularFloat // [src][amp] windowed sample values
	window           int
}

// NewChain returns a chain ready to go. It even performs burnin.
func NewChain(samp Sampler, burnIn int, window int) (*Chain, error) {
	if burnIn < 0 {
		return nil, errors.Errorf("Invalid burn in %d", burnIn)
	}
	ch := &Chain{
		Sampler: samp,
		BurnIn:  burnIn,
		window:  window,
	}

	for i := 0; i < burnIn; i++ {
		err := ch.oneSample(false)
		if err != nil {
			return nil, errors.Wrapf(err, "Failure during chain burn in sweep %d", i)
		}
	}

	return ch, nil
}

// Run takes n samples, handing each one to sink
func (c *Chain) Run(n int, sink Sink) error {
	for i := 0; i < n; i++ {
		if err := c.oneSample(true); err != nil {
			return errors.Wrapf(err, "Failure in sweep %d", i)
		}
		if sink != nil {
			if err := sink(i, c.LastSample); err != nil {
				return errors.Wrapf(err, "Could not save sweep %d", i)
			}
		}
	}
	return nil
}

// AmpMeans returns the windowed mean of every amplitude
func (c *Chain) AmpMeans() [][]float64 {
	res := make([][]float64, len(c.AmpHistory))
	for i, hist := range c.AmpHistory {
		res[i] = make([]float64, len(hist))
		for k, buf := range hist {
			res[i][k] = buf.Mean()
		}
	}
	return res
}

// AmpDrift compares the older and newer half of every amplitude window: the
// difference of their means in units of the window standard deviation. An
// entry is NaN until its window has filled.
func (c *Chain) AmpDrift() [][]float64 {
	res := make([][]float64, len(c.AmpHistory))
	for i, hist := range c.AmpHistory {
		res[i] = make([]float64, len(hist))
		for k, buf := range hist {
			res[i][k] = windowDrift(buf)
		}
	}
	return res
}

func windowDrift(buf *buffer.CircularFloat) float64 {
	first, second := buf.FirstHalf(), buf.SecondHalf()
	if first == nil || second == nil {
		return math.NaN()
	}

	var old, recent stats.Float64Data
	for first.Next() {
		old = append(old, first.Value())
	}
	for second.Next() {
		recent = append(recent, second.Value())
	}

	m1, _ := stats.Mean(old)
	m2, _ := stats.Mean(recent)
	all := append(append(stats.Float64Data{}, old...), recent...)
	sd, _ := stats.StandardDeviation(all)
	if sd == 0 {
		return 0
	}
	return (m2 - m1) / sd
}

// oneSample takes a single sample and optionally updates the chain history.
func (c *Chain) oneSample(update bool) error {
	st, err := c.Sampler.Sample()
	if err != nil {
		return errors.Wrap(err, "Error taking sample")
	}
	c.LastSample = st

	if update {
		if c.AmpHistory == nil {
			c.AmpHistory = make([][]*buffer.CircularFloat, len(st.Amps))
			for i, amps := range st.Amps {
				c.AmpHistory[i] = make([]*buffer.CircularFloat, len(amps))
				for k := range amps {
					c.AmpHistory[i][k] = buffer.NewCircularFloat(c.window)
				}
			}
		}
		for i, amps := range st.Amps {
			for k, a := range amps {
				c.AmpHistory[i][k].Add(a)
			}
		}
		c.TotalSampleCount++
	}

	return nil
}
