package verifier

import "fmt"

// maxLogLines bounds the amount of trace retained during analysis.
// When the budget is exhausted the oldest lines are discarded, the
// tail is what matters for diagnosing a rejection.
const maxLogLines = 512

type traceLog struct {
	lines     []string
	truncated bool
}

func (l *traceLog) printf(format string, args ...interface{}) {
	if len(l.lines) >= maxLogLines {
		copy(l.lines, l.lines[1:])
		l.lines = l.lines[:maxLogLines-1]
		l.truncated = true
	}
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}
