// Package events publishes completed risk decisions to downstream sinks.
package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nexshop/nexid/internal/metrics"
	"github.com/nexshop/nexid/internal/risk"
)

// Mode is how a decision was produced.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// TypeDecision is the only event type published today.
const TypeDecision = "decision"

// Event describes one completed decision.
type Event struct {
	Type      string               `json:"type"`
	Mode      Mode                 `json:"mode"`
	CallerIP  string               `json:"callerIp,omitempty"`
	Response  *risk.VerifyResponse `json:"response"`
	Timestamp time.Time            `json:"timestamp"`
}

// NewDecision builds a decision event stamped with the current time.
func NewDecision(mode Mode, callerIP string, resp *risk.VerifyResponse) Event {
	return Event{
		Type:      TypeDecision,
		Mode:      mode,
		CallerIP:  callerIP,
		Response:  resp,
		Timestamp: time.Now().UTC(),
	}
}

// Sink receives decision events. Publish must not block for long; sinks
// that talk to the network buffer internally.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// Publisher is what decision producers depend on.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Fanout delivers each event to every sink. Sink failures are logged and
// counted, never returned: publishing is best-effort.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanout creates a fan-out over sinks. Nil sinks are skipped.
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Add registers another sink.
func (f *Fanout) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}

// Len reports the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Publish hands ev to every sink.
func (f *Fanout) Publish(ctx context.Context, ev Event) {
	for _, s := range f.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			metrics.EventsPublishedTotal.WithLabelValues(s.Name(), "error").Inc()
			if f.logger != nil {
				f.logger.Warn("event publish failed", "sink", s.Name(), "error", err)
			}
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues(s.Name(), "ok").Inc()
	}
}

// Close closes every sink that holds resources.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}
