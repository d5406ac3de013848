package jobs

import (
	"container/heap"
	"time"

	"github.com/nexshop/nexid/internal/risk"
)

// Job is one deferred evaluation. The request and caller address are
// captured at enqueue time and never re-read.
type Job struct {
	ID         string
	Request    *risk.VerifyRequest
	CallerIP   string
	EnqueuedAt time.Time
	FireAt     time.Time

	seq uint64 // ties on FireAt run in enqueue order
}

// timeline is a min-heap of jobs ordered by fire time.
type timeline []*Job

var _ heap.Interface = (*timeline)(nil)

func (t timeline) Len() int { return len(t) }

func (t timeline) Less(i, j int) bool {
	if t[i].FireAt.Equal(t[j].FireAt) {
		return t[i].seq < t[j].seq
	}
	return t[i].FireAt.Before(t[j].FireAt)
}

func (t timeline) Swap(i, j int) { t[i], t[j] = t[j], t[i] }

func (t *timeline) Push(x any) { *t = append(*t, x.(*Job)) }

func (t *timeline) Pop() any {
	old := *t
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*t = old[:n-1]
	return j
}

// popDue removes and returns every job due at or before now, plus the wait
// until the next one. wait is negative when the timeline is empty.
func (t *timeline) popDue(now time.Time) (due []*Job, wait time.Duration) {
	for t.Len() > 0 {
		next := (*t)[0]
		if next.FireAt.After(now) {
			return due, next.FireAt.Sub(now)
		}
		due = append(due, heap.Pop(t).(*Job))
	}
	return due, -1
}
