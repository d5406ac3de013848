// Package lists assembles the trusted and blocked identifier lists from the
// configured sources.
package lists

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nexshop/nexid/internal/risk"
)

// Verdict says which side of the list an entry belongs to.
type Verdict string

const (
	Trusted Verdict = "trusted"
	Blocked Verdict = "blocked"
)

// ParseVerdict accepts "trusted"/"trust" and "blocked"/"block".
func ParseVerdict(s string) (Verdict, bool) {
	switch s {
	case "trusted", "trust":
		return Trusted, true
	case "blocked", "block":
		return Blocked, true
	}
	return "", false
}

// Entry is one list value from a source.
type Entry struct {
	Verdict Verdict
	Kind    risk.Kind
	Value   string
}

// Source produces list entries. Sources are read once at start-up.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]Entry, error)
}

// Build loads every source and merges the entries into one immutable
// ListSet. Any source failure aborts the build.
func Build(ctx context.Context, logger *slog.Logger, sources ...Source) (*risk.ListSet, error) {
	b := risk.NewListBuilder()
	for _, src := range sources {
		entries, err := src.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("lists: load %s: %w", src.Name(), err)
		}
		for _, e := range entries {
			switch e.Verdict {
			case Trusted:
				b.Trust(e.Kind, e.Value)
			case Blocked:
				b.Block(e.Kind, e.Value)
			}
		}
		if logger != nil {
			logger.Info("list source loaded", "source", src.Name(), "entries", len(entries))
		}
	}

	set := b.Build()
	if logger != nil {
		counts := set.Counts()
		logger.Info("lists ready",
			"trusted_ip", counts["trusted_ip"],
			"trusted_email", counts["trusted_email"],
			"trusted_user", counts["trusted_user"],
			"blocked_ip", counts["blocked_ip"],
			"blocked_email", counts["blocked_email"],
			"blocked_user", counts["blocked_user"],
		)
	}
	return set, nil
}

// Static is an in-memory source, used for environment lists.
type Static struct {
	name    string
	entries []Entry
}

// NewStatic creates an empty in-memory source.
func NewStatic(name string) *Static {
	return &Static{name: name}
}

// Add appends values for one verdict and kind.
func (s *Static) Add(v Verdict, kind risk.Kind, values ...string) *Static {
	for _, val := range values {
		s.entries = append(s.entries, Entry{Verdict: v, Kind: kind, Value: val})
	}
	return s
}

func (s *Static) Name() string { return s.name }

func (s *Static) Load(context.Context) ([]Entry, error) {
	return s.entries, nil
}
