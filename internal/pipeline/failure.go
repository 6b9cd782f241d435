package pipeline

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/syllabus-jobs/internal/artifact"
)

// FailureKind classifies why an execution ended in failed.
type FailureKind string

const (
	KindProbeTimeout   FailureKind = "probe_timeout"
	KindProbeError     FailureKind = "probe_error"
	KindFetchTimeout   FailureKind = "fetch_timeout"
	KindFetchError     FailureKind = "fetch_error"
	KindMissing        FailureKind = "artifact_missing"
	KindEmpty          FailureKind = "empty_artifact"
	KindProcessTimeout FailureKind = "processing_timeout"
	KindProcessError   FailureKind = "processing_error"
	KindInvalidOutput  FailureKind = "invalid_output"
	KindCancelled      FailureKind = "cancelled"
)

// MaxErrorLen caps the message stored on a failed job.
const MaxErrorLen = 500

// Failure is a classified execution failure.
type Failure struct {
	Kind    FailureKind
	Err     error
	Timeout time.Duration
}

func (f *Failure) Error() string { return f.Message() }

func (f *Failure) Unwrap() error { return f.Err }

// Message is the human-readable text stored on the job.
func (f *Failure) Message() string {
	var msg string
	switch f.Kind {
	case KindProbeTimeout:
		msg = fmt.Sprintf("storage unreachable: connectivity check timed out after %s", f.Timeout)
	case KindProbeError:
		msg = "storage unreachable: " + artifact.Describe(f.Err)
	case KindFetchTimeout:
		msg = fmt.Sprintf("artifact download timed out after %s", f.Timeout)
	case KindFetchError:
		msg = "artifact download failed: " + artifact.Describe(f.Err)
	case KindMissing:
		msg = "artifact not found in storage"
	case KindEmpty:
		msg = "artifact is empty"
	case KindProcessTimeout:
		msg = fmt.Sprintf("document analysis timed out after %s", f.Timeout)
	case KindProcessError:
		msg = fmt.Sprintf("document analysis failed: %v", f.Err)
	case KindInvalidOutput:
		msg = fmt.Sprintf("document analysis returned invalid output: %v", f.Err)
	case KindCancelled:
		msg = fmt.Sprintf("execution cancelled: %v", f.Err)
	default:
		msg = fmt.Sprintf("execution failed: %v", f.Err)
	}
	return truncate(msg, MaxErrorLen)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}
