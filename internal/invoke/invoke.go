package invoke

import "time"

// ErrorKind classifies why an invocation (or a whole dispatch) failed.
// Every failure path in the pipeline ends up tagged with one of these.
type ErrorKind string

const (
	ErrNone           ErrorKind = ""
	ErrAmbiguousQuery ErrorKind = "ambiguous-query"
	ErrMissingParam   ErrorKind = "missing-parameter"
	ErrAuthMissing    ErrorKind = "auth-missing"
	ErrAuthExpired    ErrorKind = "auth-expired"
	ErrValidation     ErrorKind = "upstream-validation-error"
	ErrNotFound       ErrorKind = "upstream-not-found"
	ErrRateLimited    ErrorKind = "upstream-rate-limited"
	ErrTransient      ErrorKind = "upstream-transient-error"
	ErrNonZeroExit    ErrorKind = "subprocess-nonzero-exit"
	ErrSubprocTimeout ErrorKind = "subprocess-timeout"
	ErrNotAllowed     ErrorKind = "subprocess-not-allowed"
	ErrUnknown        ErrorKind = "unknown"
)

// Invocation is the normalized outcome of one physical call: either an
// HTTP request to the upstream API or one subprocess execution. The
// dispatcher consumes these and never sees transport-level errors directly.
type Invocation struct {
	Success    bool          `json:"success"`
	Payload    interface{}   `json:"payload,omitempty"`
	Raw        string        `json:"raw,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	ExitCode   int           `json:"exit_code,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Retries    int           `json:"retries,omitempty"`
	ErrKind    ErrorKind     `json:"error_kind,omitempty"`
	ErrDetail  string        `json:"error_detail,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Fail builds a failed invocation tagged with the given kind.
func Fail(kind ErrorKind, detail string, elapsed time.Duration) *Invocation {
	return &Invocation{Success: false, ErrKind: kind, ErrDetail: detail, Elapsed: elapsed}
}

// Transient reports whether the failure is worth retrying.
func (k ErrorKind) Transient() bool {
	return k == ErrRateLimited || k == ErrTransient
}
