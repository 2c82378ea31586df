package fetch

import "fmt"

// Result is the outcome the worker delivers to a submitter.
type Result int

const (
	// ResultNone means no outcome has been delivered yet.
	ResultNone Result = iota
	// ResultDone means the transfer ran to completion. Protocol-level
	// failures (bad status, connection errors) are held by the Handle.
	ResultDone
	// ResultRemoved means the request was withdrawn by Cancel.
	ResultRemoved
	// ResultBadQueue means the request could not be admitted.
	ResultBadQueue
	// ResultTotalError means the transfer failed inside the engine itself.
	ResultTotalError
	// ResultShutdown means the engine stopped while the request was outstanding.
	ResultShutdown
)

var resultNames = [...]string{
	ResultNone:       "NONE",
	ResultDone:       "DONE",
	ResultRemoved:    "REMOVED",
	ResultBadQueue:   "BAD_QUEUE",
	ResultTotalError: "TOTAL_ERROR",
	ResultShutdown:   "SHUTDOWN",
}

// String returns the upper-case name of the result.
func (r Result) String() string {
	if r < 0 || int(r) >= len(resultNames) {
		return fmt.Sprintf("Result(%d)", int(r))
	}
	return resultNames[r]
}

// ParseResult converts a name produced by String back into a Result.
func ParseResult(s string) (Result, error) {
	for i, name := range resultNames {
		if name == s {
			return Result(i), nil
		}
	}
	return ResultNone, fmt.Errorf("unknown result %q", s)
}
