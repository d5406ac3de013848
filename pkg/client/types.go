package client

// Interaction contexts accepted by the verify endpoint.
const (
	ContextLogin     = "login"
	ContextCheckout  = "checkout"
	ContextSensitive = "sensitive"
)

// Decision statuses. StatusProcessing only appears while an async result is
// pending.
const (
	StatusAllow      = "allow"
	StatusReview     = "review"
	StatusDeny       = "deny"
	StatusProcessing = "processing"
)

// Screen describes the client display.
type Screen struct {
	W   float64 `json:"w"`
	H   float64 `json:"h"`
	DPR float64 `json:"dpr"`
}

// Snapshot is the behavioral telemetry sent with every verification.
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

// Payload is the caller-supplied part of a verification request.
type Payload struct {
	Context   string `json:"context"`
	UserID    string `json:"userId,omitempty"`
	EmailHash string `json:"emailHash,omitempty"`
}

type verifyRequest struct {
	Payload
	Snapshot Snapshot `json:"snapshot"`
}

// Response is a risk decision, or an async placeholder.
type Response struct {
	Status    string   `json:"status"`
	Score     int      `json:"score"`
	Reasons   []string `json:"reasons"`
	RequestID string   `json:"requestId"`
	Context   string   `json:"context,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// Pending reports whether the decision is still being computed.
func (r *Response) Pending() bool {
	return r.Status == StatusProcessing
}
