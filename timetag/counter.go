// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package timetag

// Counter bins detections per channel into a rolling window of fixed-width
// time bins. The newest bin is last; when time advances past the window the
// oldest bins fall off.
type Counter struct {
	measurement
	channels []int32
	chanIdx  map[int32]int
	binwidth int64
	nBins    int

	data     [][]int64 // [channel][bin]
	binStart int64     // start time of the newest bin, -1 before data
}

// NewCounter creates a counter over the given channels and attaches it to
// the tagger's stream. It acquires immediately.
func NewCounter(t *Tagger, channels []int32, binwidth int64, nBins int) (*Counter, error) {
	if binwidth <= 0 || nBins <= 0 {
		return nil, Errorf(CodeInvalidArg, "binwidth and n_bins must be positive, got %d and %d", binwidth, nBins)
	}
	if len(channels) == 0 {
		return nil, Errorf(CodeInvalidArg, "at least one channel required")
	}
	t.mu.Lock()
	for _, ch := range channels {
		if err := t.checkChannel(ch); err != nil {
			t.mu.Unlock()
			return nil, err
		}
	}
	t.mu.Unlock()

	c := &Counter{
		channels: append([]int32(nil), channels...),
		chanIdx:  make(map[int32]int, len(channels)),
		binwidth: binwidth,
		nBins:    nBins,
		binStart: -1,
	}
	for i, ch := range channels {
		c.chanIdx[ch] = i
	}
	c.resetData()
	c.init(t, c.resetData)
	t.attach(c)
	return c, nil
}

func (c *Counter) resetData() {
	c.data = make([][]int64, len(c.channels))
	for i := range c.data {
		c.data[i] = make([]int64, c.nBins)
	}
	c.binStart = -1
}

func (c *Counter) process(tags []Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tags = c.gateLocked(tags)
	for _, tag := range tags {
		idx, ok := c.chanIdx[tag.Channel]
		if !ok {
			continue
		}
		if c.binStart < 0 {
			c.binStart = tag.Time - tag.Time%c.binwidth
		}
		for tag.Time >= c.binStart+c.binwidth {
			for i := range c.data {
				copy(c.data[i], c.data[i][1:])
				c.data[i][c.nBins-1] = 0
			}
			c.binStart += c.binwidth
		}
		c.data[idx][c.nBins-1]++
	}
}

// Data returns the per-channel bin counts, one row per requested channel,
// oldest bin first.
func (c *Counter) Data() [][]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]int64, len(c.data))
	for i, row := range c.data {
		out[i] = append([]int64(nil), row...)
	}
	return out
}

// Index returns the time offset of each bin relative to the newest bin, in
// picoseconds, oldest first.
func (c *Counter) Index() []int64 {
	idx := make([]int64, c.nBins)
	for i := range idx {
		idx[i] = int64(i-(c.nBins-1)) * c.binwidth
	}
	return idx
}

// Channels returns the channels this counter observes.
func (c *Counter) Channels() []int32 {
	return append([]int32(nil), c.channels...)
}

// Close detaches the counter from the tagger's stream.
func (c *Counter) Close() error {
	c.detach(c)
	return nil
}
