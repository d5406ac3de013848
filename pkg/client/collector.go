package client

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SDKVersion is reported in every snapshot.
const SDKVersion = "0.1.0-go"

// CollectorConfig carries the static environment a snapshot reports.
type CollectorConfig struct {
	UserAgent string
	Languages []string
	Timezone  string
	Screen    Screen
	Platform  string
	SessionID string // generated when empty

	// Now overrides the clock; tests only.
	Now func() time.Time
}

// Collector accumulates behavioral signals for one page session. It is safe
// for concurrent use.
type Collector struct {
	cfg       CollectorConfig
	now       func() time.Time
	pageStart time.Time

	mu         sync.Mutex
	mouseMoves int
	inactive   time.Duration
	blurredAt  time.Time
	hidden     bool
}

// NewCollector starts a session at the current time.
func NewCollector(cfg CollectorConfig) *Collector {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	if cfg.Timezone == "" {
		cfg.Timezone = time.Local.String()
	}
	return &Collector{
		cfg:       cfg,
		now:       now,
		pageStart: now(),
	}
}

// SessionID returns the session identifier sent with each snapshot.
func (c *Collector) SessionID() string {
	return c.cfg.SessionID
}

// MouseMove records one pointer movement.
func (c *Collector) MouseMove() {
	c.mu.Lock()
	c.mouseMoves++
	c.mu.Unlock()
}

// Blur marks the page as no longer focused. Repeated calls keep the first
// blur time.
func (c *Collector) Blur() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hidden {
		return
	}
	c.hidden = true
	c.blurredAt = c.now()
}

// Focus ends an inactive period started by Blur and adds it to the total.
func (c *Collector) Focus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hidden {
		return
	}
	c.inactive += c.now().Sub(c.blurredAt)
	c.hidden = false
}

// Snapshot captures the current counters. Page time excludes completed
// inactive periods and never goes negative.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	pageTime := now.Sub(c.pageStart) - c.inactive
	if pageTime < 0 {
		pageTime = 0
	}
	languages := c.cfg.Languages
	if languages == nil {
		languages = []string{}
	}
	return Snapshot{
		UserAgent:      c.cfg.UserAgent,
		Languages:      append([]string{}, languages...),
		Timezone:       c.cfg.Timezone,
		Screen:         c.cfg.Screen,
		Platform:       c.cfg.Platform,
		SessionID:      c.cfg.SessionID,
		PageTimeMs:     float64(pageTime.Milliseconds()),
		MouseMoves:     c.mouseMoves,
		TabInactiveMs:  float64(c.inactive.Milliseconds()),
		LastActivityTs: float64(now.UnixMilli()),
		SDKVersion:     SDKVersion,
	}
}
