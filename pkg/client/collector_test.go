package client

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCollector() (*Collector, *stepClock) {
	clock := &stepClock{t: time.UnixMilli(1_700_000_000_000)}
	return NewCollector(CollectorConfig{
		UserAgent: "go-test",
		Languages: []string{"en-US"},
		Timezone:  "UTC",
		Screen:    Screen{W: 1920, H: 1080, DPR: 1},
		Platform:  "linux",
		Now:       clock.Now,
	}), clock
}

func TestCollectorSnapshot(t *testing.T) {
	c, clock := newTestCollector()
	for i := 0; i < 7; i++ {
		c.MouseMove()
	}
	clock.Advance(4 * time.Second)

	s := c.Snapshot()
	assert.Equal(t, 7, s.MouseMoves)
	assert.Equal(t, float64(4000), s.PageTimeMs)
	assert.Zero(t, s.TabInactiveMs)
	assert.Equal(t, float64(clock.Now().UnixMilli()), s.LastActivityTs)
	assert.Equal(t, SDKVersion, s.SDKVersion)
	assert.Equal(t, c.SessionID(), s.SessionID)
	assert.NotEmpty(t, s.SessionID)
}

func TestCollectorInactivity(t *testing.T) {
	c, clock := newTestCollector()

	clock.Advance(2 * time.Second)
	c.Blur()
	clock.Advance(time.Second)
	c.Blur() // second blur does not restart the period
	clock.Advance(60 * time.Second)
	c.Focus()
	c.Focus() // focus without a blur adds nothing
	clock.Advance(time.Second)

	s := c.Snapshot()
	assert.Equal(t, float64(61000), s.TabInactiveMs)
	assert.Equal(t, float64(3000), s.PageTimeMs)
}

func TestCollectorPageTimeNeverNegative(t *testing.T) {
	c, clock := newTestCollector()
	c.Blur()
	clock.Advance(time.Second)
	c.Focus()
	clock.t = clock.t.Add(-5 * time.Second)

	assert.Zero(t, c.Snapshot().PageTimeMs)
}

func TestCollectorEmptyLanguagesEncodeAsArray(t *testing.T) {
	c := NewCollector(CollectorConfig{})
	data, err := json.Marshal(c.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"languages":[]`)
}

func TestCollectorDistinctSessions(t *testing.T) {
	a := NewCollector(CollectorConfig{})
	b := NewCollector(CollectorConfig{})
	assert.NotEqual(t, a.SessionID(), b.SessionID())

	fixed := NewCollector(CollectorConfig{SessionID: "s-1"})
	assert.Equal(t, "s-1", fixed.Snapshot().SessionID)
}
