package supervisor

import "fmt"

// Kind classifies how a supervised run ended.
type Kind int

const (
	// KindSuccess means ffmpeg exited with status 0.
	KindSuccess Kind = iota
	// KindFailed means the run ended without producing output.
	KindFailed
	// KindDeleted means the record went away while the run was active.
	KindDeleted
)

// Failure reasons reported by the supervisor.
const (
	ReasonNotStarted  = "could not start"
	ReasonFileRemoved = "source file removed during processing"
	ReasonInterrupted = "interrupted"
)

// Outcome is the result of a supervised run.
type Outcome struct {
	Kind   Kind
	Reason string
}

// Success returns a successful outcome.
func Success() Outcome { return Outcome{Kind: KindSuccess} }

// Failed returns a failed outcome with reason.
func Failed(reason string) Outcome { return Outcome{Kind: KindFailed, Reason: reason} }

// Deleted returns the outcome for a record that disappeared mid-run.
func Deleted() Outcome { return Outcome{Kind: KindDeleted} }

// exitFailure is the reason for a non-zero exit.
func exitFailure(code int) Outcome {
	return Failed(fmt.Sprintf("exit code %d", code))
}

// IsSuccess reports whether the run succeeded.
func (o Outcome) IsSuccess() bool { return o.Kind == KindSuccess }

// IsDeleted reports whether the record was deleted during the run.
func (o Outcome) IsDeleted() bool { return o.Kind == KindDeleted }

// String returns the metric label of the outcome.
func (o Outcome) String() string {
	switch o.Kind {
	case KindSuccess:
		return "success"
	case KindDeleted:
		return "deleted"
	default:
		return "failed"
	}
}
