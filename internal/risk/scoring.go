package risk

import "math"

// Snapshot breakpoints. These are part of the decision contract and must
// not drift.
const (
	pageTimeHighMs = 3000
	pageTimeMidMs  = 1500

	mouseMovesHigh = 6
	mouseMovesMid  = 3

	inactiveTabMs     = 60000
	inactivityPenalty = 0.25
)

func timeScore(pageTimeMs float64) float64 {
	switch {
	case pageTimeMs >= pageTimeHighMs:
		return 0.9
	case pageTimeMs >= pageTimeMidMs:
		return 0.75
	default:
		return 0.4
	}
}

func mouseScore(moves int) float64 {
	switch {
	case moves >= mouseMovesHigh:
		return 0.9
	case moves >= mouseMovesMid:
		return 0.75
	default:
		return 0.45
	}
}

// Suspicion reduces a snapshot to a value in [0, 1]. Higher means the
// interaction looks more like an engaged human.
func Suspicion(s Snapshot) float64 {
	penalty := 0.0
	if s.TabInactiveMs >= inactiveTabMs {
		penalty = inactivityPenalty
	}
	return clamp((timeScore(s.PageTimeMs)+mouseScore(s.MouseMoves))/2-penalty, 0, 1)
}

// signals returns the descriptive reasons for a snapshot in fixed order.
func signals(s Snapshot) []string {
	var reasons []string
	if s.TabInactiveMs >= inactiveTabMs {
		reasons = append(reasons, ReasonLongInactiveTab)
	}
	if s.PageTimeMs < pageTimeMidMs {
		reasons = append(reasons, ReasonLowPageTime)
	}
	if s.MouseMoves < mouseMovesMid {
		reasons = append(reasons, ReasonLowMouseActivity)
	}
	return reasons
}

// clamp bounds v to [lo, hi]. NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
