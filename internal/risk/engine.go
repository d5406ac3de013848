package risk

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nexshop/nexid/internal/traces"
)

// sensitivityDamping is the largest fraction of the suspicion value that
// sensitivity can remove.
const sensitivityDamping = 0.3

// Engine turns verification requests into decisions. It holds no mutable
// state and may be shared freely.
type Engine struct {
	lists          *ListSet
	sensitivity    float64
	reviewMinScore int
	now            func() time.Time
}

// NewEngine creates an engine over the given lists with default settings.
// A nil ListSet matches nothing.
func NewEngine(lists *ListSet) *Engine {
	if lists == nil {
		lists = EmptyLists()
	}
	return &Engine{
		lists:          lists,
		sensitivity:    DefaultSensitivity,
		reviewMinScore: DefaultReviewMinScore,
		now:            time.Now,
	}
}

// WithSensitivity overrides the default sensitivity. Values outside [0, 1]
// are clamped at decision time; NaN counts as 0.
func (e *Engine) WithSensitivity(s float64) *Engine {
	e.sensitivity = s
	return e
}

// WithReviewMinScore overrides the lowest score that still earns a review.
// Values above AllowMinScore are honored as given.
func (e *Engine) WithReviewMinScore(n int) *Engine {
	e.reviewMinScore = n
	return e
}

// WithClock replaces the clock used for response timestamps.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Lists returns the list set the engine was built with.
func (e *Engine) Lists() *ListSet { return e.lists }

// Decide evaluates a validated request. It never fails: every request
// yields a response with a score in [0, 100] and at least one reason.
func (e *Engine) Decide(ctx context.Context, req *VerifyRequest, callerIP, requestID string) *VerifyResponse {
	_, span := traces.StartSpan(ctx, "risk.decide",
		traces.RequestID(requestID),
		attribute.String("risk.context", string(req.Context)),
	)
	defer span.End()

	resp := e.decide(req, callerIP, requestID)
	span.SetAttributes(
		attribute.String("risk.status", string(resp.Status)),
		attribute.Int("risk.score", resp.Score),
	)
	return resp
}

func (e *Engine) decide(req *VerifyRequest, callerIP, requestID string) *VerifyResponse {
	resp := &VerifyResponse{
		RequestID: requestID,
		Context:   req.Context,
		Timestamp: e.now().UnixMilli(),
	}

	verdict := e.lists.Classify(callerIP, req.EmailHash, req.UserID)
	if verdict.Blocked != "" {
		resp.Status = StatusDeny
		resp.Score = BlockedScore
		resp.Reasons = []string{verdict.Blocked}
		return resp
	}

	suspicion := Suspicion(req.Snapshot)
	for range verdict.Trusted {
		suspicion = clamp(suspicion+trustBonus, 0, 1)
	}

	reasons := append([]string(nil), verdict.Trusted...)
	reasons = append(reasons, signals(req.Snapshot)...)
	if len(reasons) == 0 {
		reasons = []string{ReasonOK}
	}

	resp.Score = Score(suspicion, e.sensitivity)
	resp.Status = e.status(resp.Score)
	resp.Reasons = reasons
	return resp
}

// Score applies sensitivity damping and converts a suspicion value to an
// integer in [0, 100]. The explicit conversions keep the compiler from
// fusing multiply-add, which would shift results at rounding boundaries.
func Score(suspicion, sensitivity float64) int {
	damp := 1 - float64(sensitivityDamping*clamp(sensitivity, 0, 1))
	adjusted := clamp(float64(suspicion*damp), 0, 1)
	return int(math.Round(float64(adjusted * 100)))
}

func (e *Engine) status(score int) Status {
	switch {
	case score >= AllowMinScore:
		return StatusAllow
	case score >= e.reviewMinScore:
		return StatusReview
	default:
		return StatusDeny
	}
}
