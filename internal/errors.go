package internal

import (
	"bytes"
	"fmt"
	"strings"
)

// ErrorWithLog returns an error that includes the diagnostic trace
// captured while analysing a program.
//
// truncated reports whether the trace outgrew its buffer and had to be
// cut short.
func ErrorWithLog(err error, log []byte, truncated bool) error {
	detail := strings.TrimRight(string(log), "\t\r\n ")
	if truncated {
		detail += " (truncated...)"
	}

	// The most specific information is usually at the end of
	// the trace. Try to find the last line and use that
	// as the summary.
	var summary string
	if pos := strings.LastIndexByte(detail, '\n'); pos > 0 {
		summary = strings.TrimLeft(detail[pos:], "\t\r\n ")
	} else {
		summary = detail
		detail = ""
	}

	return &loadError{err, summary, detail}
}

type loadError struct {
	cause   error
	summary string
	detail  string
}

func (le *loadError) Error() string {
	if le.summary == "" {
		return le.cause.Error()
	}

	if le.detail == "" {
		return le.cause.Error() + ": " + le.summary
	}

	return fmt.Sprintf("%s: %s\n%s", le.cause, le.summary, le.detail)
}

func (le *loadError) Unwrap() error {
	return le.cause
}

// CString turns a NUL / zero terminated byte buffer into a string.
//
// Buffers without a terminator yield the empty string, matching the
// fixed-width field discipline: a field that was never terminated was
// never valid.
func CString(in []byte) string {
	inLen := bytes.IndexByte(in, 0)
	if inLen == -1 {
		return ""
	}
	return string(in[:inLen])
}
