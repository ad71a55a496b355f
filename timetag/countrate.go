// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package timetag

// Countrate measures the average detection rate per channel over the
// acquisition time.
type Countrate struct {
	measurement
	channels []int32
	chanIdx  map[int32]int
	counts   []int64
}

// NewCountrate creates a countrate over the given channels and attaches it
// to the tagger's stream. It acquires immediately.
func NewCountrate(t *Tagger, channels []int32) (*Countrate, error) {
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

	c := &Countrate{
		channels: append([]int32(nil), channels...),
		chanIdx:  make(map[int32]int, len(channels)),
		counts:   make([]int64, len(channels)),
	}
	for i, ch := range channels {
		c.chanIdx[ch] = i
	}
	c.init(t, c.resetData)
	t.attach(c)
	return c, nil
}

func (c *Countrate) resetData() {
	for i := range c.counts {
		c.counts[i] = 0
	}
	c.captured = 0
	c.firstTag = -1
}

func (c *Countrate) process(tags []Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tag := range c.gateLocked(tags) {
		if idx, ok := c.chanIdx[tag.Channel]; ok {
			c.counts[idx]++
		}
	}
}

// Counts returns the absolute number of detections per channel.
func (c *Countrate) Counts() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.counts...)
}

// Data returns the average rate per channel in events per second. Zero
// capture time yields zero rates.
func (c *Countrate) Data() []float64 {
	c.mu.Lock()
	seconds := float64(c.captured)
	if c.running && c.firstTag >= 0 {
		seconds += float64(c.lastTag - c.firstTag)
	}
	seconds /= 1e12
	rates := make([]float64, len(c.counts))
	for i, n := range c.counts {
		if seconds > 0 {
			rates[i] = float64(n) / seconds
		}
	}
	c.mu.Unlock()
	return rates
}

// Channels returns the channels this countrate observes.
func (c *Countrate) Channels() []int32 {
	return append([]int32(nil), c.channels...)
}

// Close detaches the countrate from the tagger's stream.
func (c *Countrate) Close() error {
	c.detach(c)
	return nil
}
