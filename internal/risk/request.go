package risk

import (
	"fmt"
	"math"

	"github.com/nexshop/nexid/internal/validation"
)

// ScreenPayload is the wire form of Screen.
type ScreenPayload struct {
	W   *float64 `json:"w"`
	H   *float64 `json:"h"`
	DPR *float64 `json:"dpr"`
}

// SnapshotPayload is the wire form of Snapshot. Pointer fields let
// validation tell a missing field from a zero value.
type SnapshotPayload struct {
	UserAgent      *string        `json:"userAgent"`
	Languages      []string       `json:"languages"`
	Timezone       *string        `json:"timezone"`
	Screen         *ScreenPayload `json:"screen"`
	Platform       *string        `json:"platform"`
	SessionID      *string        `json:"sessionId"`
	PageTimeMs     *float64       `json:"pageTimeMs"`
	MouseMoves     *float64       `json:"mouseMoves"`
	TabInactiveMs  *float64       `json:"tabInactiveMs"`
	LastActivityTs *float64       `json:"lastActivityTs"`
	SDKVersion     *string        `json:"sdkVersion"`
}

// VerifyPayload is the JSON body of a verification request.
type VerifyPayload struct {
	Context   string           `json:"context"`
	UserID    string           `json:"userId,omitempty"`
	EmailHash string           `json:"emailHash,omitempty"`
	Snapshot  *SnapshotPayload `json:"snapshot"`
}

// ParseVerifyRequest validates a decoded payload and converts it to a
// VerifyRequest. Any structural problem yields an error wrapping
// ErrInvalidPayload; nothing is ever scored from a partial payload.
func ParseVerifyRequest(p *VerifyPayload) (*VerifyRequest, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	errs := validation.Validate(
		validation.OneOf("context", p.Context,
			string(ContextLogin), string(ContextCheckout), string(ContextSensitive)),
		validation.MaxLength("userId", p.UserID, validation.MaxStringLength),
		validation.MaxLength("emailHash", p.EmailHash, validation.MaxStringLength),
		validation.Present("snapshot", p.Snapshot != nil),
	)
	if p.Snapshot != nil {
		errs = append(errs, validateSnapshot(p.Snapshot)...)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, errs)
	}

	s := p.Snapshot
	return &VerifyRequest{
		Context:   Context(p.Context),
		UserID:    p.UserID,
		EmailHash: p.EmailHash,
		Snapshot: Snapshot{
			UserAgent: *s.UserAgent,
			Languages: append([]string(nil), s.Languages...),
			Timezone:  *s.Timezone,
			Screen: Screen{
				W:   *s.Screen.W,
				H:   *s.Screen.H,
				DPR: *s.Screen.DPR,
			},
			Platform:       *s.Platform,
			SessionID:      *s.SessionID,
			PageTimeMs:     *s.PageTimeMs,
			MouseMoves:     moveCount(*s.MouseMoves),
			TabInactiveMs:  *s.TabInactiveMs,
			LastActivityTs: *s.LastActivityTs,
			SDKVersion:     *s.SDKVersion,
		},
	}, nil
}

func validateSnapshot(s *SnapshotPayload) validation.ValidationErrors {
	validators := []func() *validation.ValidationError{
		validation.Present("snapshot.userAgent", s.UserAgent != nil),
		validation.Present("snapshot.languages", s.Languages != nil),
		validation.Present("snapshot.timezone", s.Timezone != nil),
		validation.Present("snapshot.screen", s.Screen != nil),
		validation.Present("snapshot.platform", s.Platform != nil),
		validation.Present("snapshot.sessionId", s.SessionID != nil),
		validation.Present("snapshot.pageTimeMs", s.PageTimeMs != nil),
		validation.Present("snapshot.mouseMoves", s.MouseMoves != nil),
		validation.Present("snapshot.tabInactiveMs", s.TabInactiveMs != nil),
		validation.Present("snapshot.lastActivityTs", s.LastActivityTs != nil),
		validation.Present("snapshot.sdkVersion", s.SDKVersion != nil),
		validation.NonNegative("snapshot.pageTimeMs", s.PageTimeMs),
		validation.NonNegative("snapshot.mouseMoves", s.MouseMoves),
		validation.NonNegative("snapshot.tabInactiveMs", s.TabInactiveMs),
		validation.NonNegative("snapshot.lastActivityTs", s.LastActivityTs),
	}
	if s.Screen != nil {
		validators = append(validators,
			validation.Present("snapshot.screen.w", s.Screen.W != nil),
			validation.Present("snapshot.screen.h", s.Screen.H != nil),
			validation.Present("snapshot.screen.dpr", s.Screen.DPR != nil),
			validation.NonNegative("snapshot.screen.w", s.Screen.W),
			validation.NonNegative("snapshot.screen.h", s.Screen.H),
			validation.NonNegative("snapshot.screen.dpr", s.Screen.DPR),
		)
	}
	return validation.Validate(validators...)
}

// moveCount converts a validated, non-negative JSON number to a count.
// Truncation keeps every comparison against the integer breakpoints
// unchanged.
func moveCount(v float64) int {
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}
