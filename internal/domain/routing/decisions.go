package routing

import (
	"sync"
	"time"
)

// LoggedDecision is a Decision stamped with its wall-clock time.
type LoggedDecision struct {
	Decision
	At time.Time `json:"at"`
}

// DecisionLog is a fixed-capacity ring of recent routing decisions, served
// by the debug endpoint. Safe for concurrent use.
type DecisionLog struct {
	mu   sync.Mutex
	buf  []LoggedDecision
	next int
	full bool
}

// DefaultDecisionLogSize bounds the debug history.
const DefaultDecisionLogSize = 100

// NewDecisionLog creates a ring with the given capacity (<=0 uses the
// default).
func NewDecisionLog(capacity int) *DecisionLog {
	if capacity <= 0 {
		capacity = DefaultDecisionLogSize
	}
	return &DecisionLog{buf: make([]LoggedDecision, capacity)}
}

// Add records a decision, evicting the oldest when full.
func (l *DecisionLog) Add(d Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = LoggedDecision{Decision: d, At: time.Now()}
	l.next++
	if l.next == len(l.buf) {
		l.next = 0
		l.full = true
	}
}

// Recent returns decisions newest-first.
func (l *DecisionLog) Recent() []LoggedDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int
	if l.full {
		n = len(l.buf)
	} else {
		n = l.next
	}
	out := make([]LoggedDecision, 0, n)
	for i := 0; i < n; i++ {
		idx := l.next - 1 - i
		if idx < 0 {
			idx += len(l.buf)
		}
		out = append(out, l.buf[idx])
	}
	return out
}
