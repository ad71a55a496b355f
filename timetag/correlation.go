// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package timetag

// Correlation accumulates a cross-correlation histogram between two
// channels: each pair of detections (t1 on channel one, t2 on channel two)
// with |t2-t1| inside the window increments the bin at t2-t1. The histogram
// spans n_bins bins of binwidth picoseconds centered on zero delay.
type Correlation struct {
	measurement
	ch1, ch2 int32
	binwidth int64
	nBins    int

	hist []int64
	// Recent tags per channel, pruned to the correlation window. Incoming
	// tags pair against the opposite channel's buffer, which covers both
	// signs of the delay.
	recent1 []int64
	recent2 []int64
}

// NewCorrelation creates a correlation between two channels and attaches it
// to the tagger's stream. It acquires immediately.
func NewCorrelation(t *Tagger, ch1, ch2 int32, binwidth int64, nBins int) (*Correlation, error) {
	if binwidth <= 0 || nBins <= 0 {
		return nil, Errorf(CodeInvalidArg, "binwidth and n_bins must be positive, got %d and %d", binwidth, nBins)
	}
	t.mu.Lock()
	for _, ch := range []int32{ch1, ch2} {
		if err := t.checkChannel(ch); err != nil {
			t.mu.Unlock()
			return nil, err
		}
	}
	t.mu.Unlock()

	c := &Correlation{
		ch1:      ch1,
		ch2:      ch2,
		binwidth: binwidth,
		nBins:    nBins,
		hist:     make([]int64, nBins),
	}
	c.init(t, c.resetData)
	t.attach(c)
	return c, nil
}

func (c *Correlation) resetData() {
	for i := range c.hist {
		c.hist[i] = 0
	}
	c.recent1 = c.recent1[:0]
	c.recent2 = c.recent2[:0]
}

// window is the half-width of the histogram in picoseconds.
func (c *Correlation) window() int64 {
	return int64(c.nBins) * c.binwidth / 2
}

func (c *Correlation) process(tags []Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.window()
	for _, tag := range c.gateLocked(tags) {
		switch tag.Channel {
		case c.ch1:
			c.recent2 = pruneBefore(c.recent2, tag.Time-w)
			for _, t2 := range c.recent2 {
				c.record(t2 - tag.Time)
			}
			c.recent1 = append(c.recent1, tag.Time)
		case c.ch2:
			c.recent1 = pruneBefore(c.recent1, tag.Time-w)
			for _, t1 := range c.recent1 {
				c.record(tag.Time - t1)
			}
			c.recent2 = append(c.recent2, tag.Time)
		}
	}
}

// record increments the histogram bin for one delay. Delays on the window
// edge fall outside and are dropped.
func (c *Correlation) record(dt int64) {
	idx := int(dt/c.binwidth) + c.nBins/2
	if dt < 0 && dt%c.binwidth != 0 {
		idx--
	}
	if idx >= 0 && idx < c.nBins {
		c.hist[idx]++
	}
}

func pruneBefore(times []int64, cutoff int64) []int64 {
	i := 0
	for i < len(times) && times[i] < cutoff {
		i++
	}
	return times[i:]
}

// Data returns the histogram bin counts, most negative delay first.
func (c *Correlation) Data() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.hist...)
}

// Index returns the delay at the left edge of each histogram bin in
// picoseconds.
func (c *Correlation) Index() []int64 {
	idx := make([]int64, c.nBins)
	for i := range idx {
		idx[i] = int64(i-c.nBins/2) * c.binwidth
	}
	return idx
}

// Close detaches the correlation from the tagger's stream.
func (c *Correlation) Close() error {
	c.detach(c)
	return nil
}
