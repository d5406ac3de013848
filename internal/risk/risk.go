// Package risk implements the behavioral risk decision engine.
//
// Every verification request carries a behavior snapshot collected in the
// client. The snapshot is reduced to a suspicion value in [0, 1], adjusted by
// trust lists and the configured sensitivity, and mapped to an integer score
// and one of three verdicts: allow, review or deny. Block lists short-circuit
// the heuristic entirely.
package risk

import (
	"errors"
)

// Status is the engine's verdict on an interaction.
type Status string

const (
	StatusAllow  Status = "allow"
	StatusReview Status = "review"
	StatusDeny   Status = "deny"

	// StatusProcessing is only ever reported by the result poll while an
	// async job is still pending. The engine never produces it.
	StatusProcessing Status = "processing"
)

// Context names the kind of interaction being verified.
type Context string

const (
	ContextLogin     Context = "login"
	ContextCheckout  Context = "checkout"
	ContextSensitive Context = "sensitive"
)

// Valid reports whether c is one of the known interaction kinds.
func (c Context) Valid() bool {
	switch c {
	case ContextLogin, ContextCheckout, ContextSensitive:
		return true
	}
	return false
}

// Reason codes attached to a response, in the order they can appear.
const (
	ReasonBlockedIP        = "blocked_ip"
	ReasonBlockedEmail     = "blocked_email"
	ReasonBlockedUser      = "blocked_user"
	ReasonTrustedIP        = "trusted_ip"
	ReasonTrustedEmail     = "trusted_email"
	ReasonTrustedUser      = "trusted_user"
	ReasonLongInactiveTab  = "long_inactive_tab"
	ReasonLowPageTime      = "low_page_time"
	ReasonLowMouseActivity = "low_mouse_activity"
	ReasonOK               = "ok"
	ReasonProcessing       = "processing"
)

// Default engine settings.
const (
	DefaultSensitivity    = 0.5
	DefaultReviewMinScore = 50

	// AllowMinScore is fixed; only the review floor is configurable.
	AllowMinScore = 75

	// BlockedScore is reported for every block-list match.
	BlockedScore = 10
)

var (
	ErrInvalidPayload = errors.New("risk: invalid payload")
)

// Screen describes the client display.
type Screen struct {
	W   float64 `json:"w"`
	H   float64 `json:"h"`
	DPR float64 `json:"dpr"`
}

// Snapshot is the behavioral telemetry captured in the client during a
// session. All durations are milliseconds.
type Snapshot struct {
	UserAgent      string   `json:"userAgent"`
	Languages      []string `json:"languages"`
	Timezone       string   `json:"timezone"`
	Screen         Screen   `json:"screen"`
	Platform       string   `json:"platform"`
	SessionID      string   `json:"sessionId"`
	PageTimeMs     float64  `json:"pageTimeMs"`
	MouseMoves     int      `json:"mouseMoves"`
	TabInactiveMs  float64  `json:"tabInactiveMs"`
	LastActivityTs float64  `json:"lastActivityTs"`
	SDKVersion     string   `json:"sdkVersion"`
}

// VerifyRequest is a validated verification request.
type VerifyRequest struct {
	Context   Context  `json:"context"`
	UserID    string   `json:"userId,omitempty"`
	EmailHash string   `json:"emailHash,omitempty"`
	Snapshot  Snapshot `json:"snapshot"`
}

// VerifyResponse is the outcome of a decision, returned synchronously or
// stored for polling.
type VerifyResponse struct {
	Status    Status   `json:"status"`
	Score     int      `json:"score"`
	Reasons   []string `json:"reasons"`
	RequestID string   `json:"requestId"`
	Context   Context  `json:"context,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// Clone returns a deep copy of r.
func (r *VerifyResponse) Clone() *VerifyResponse {
	if r == nil {
		return nil
	}
	c := *r
	c.Reasons = append([]string(nil), r.Reasons...)
	return &c
}

// Placeholder is the immediate answer for an accepted async request.
func Placeholder(requestID string) *VerifyResponse {
	return &VerifyResponse{
		Status:    StatusReview,
		Score:     0,
		Reasons:   []string{ReasonProcessing},
		RequestID: requestID,
	}
}
