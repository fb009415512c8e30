package ota

type (
	// Result is the outcome of an update attempt. Starting and InProgress are
	// only ever passed to a Handler, the others terminate an attempt.
	Result int

	// Handler receives every notification of an update attempt. For InProgress
	// the message carries the percent complete as text, otherwise it is empty.
	Handler func(result Result, message string)
)

const (
	Starting Result = iota
	InProgress
	Success
	Failed
	Skipped
	AlreadyUpToDate
)

var resultNames = [...]string{
	Starting:        "starting",
	InProgress:      "in_progress",
	Success:         "success",
	Failed:          "failed",
	Skipped:         "skipped",
	AlreadyUpToDate: "already_up_to_date",
}

func (r Result) String() string {
	if r < Starting || r > AlreadyUpToDate {
		return "unknown"
	}
	return resultNames[r]
}

// Terminal reports whether r ends an update attempt.
func (r Result) Terminal() bool {
	switch r {
	case Success, Failed, Skipped, AlreadyUpToDate:
		return true
	}
	return false
}

// ParseResult is the inverse of Result.String.
func ParseResult(s string) (Result, bool) {
	for i, n := range resultNames {
		if n == s {
			return Result(i), true
		}
	}
	return Failed, false
}
