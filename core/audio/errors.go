package audio

import "fmt"

// ProbeErrorKind classifies probe failures.
type ProbeErrorKind int

const (
	// NoAudioStream means the file holds no decodable audio stream. This is
	// an input error: retrying cannot fix it.
	NoAudioStream ProbeErrorKind = iota
	// ToolUnavailable means the prober binary is missing from the host.
	ToolUnavailable
	// ToolCrashed means the prober ran but exited non-zero.
	ToolCrashed
)

func (k ProbeErrorKind) String() string {
	switch k {
	case NoAudioStream:
		return "no audio stream"
	case ToolUnavailable:
		return "tool unavailable"
	case ToolCrashed:
		return "tool crashed"
	default:
		return "unknown"
	}
}

// ProbeError reports a failed probe. All probe failures are fatal to the
// pipeline run; the orchestrator never retries them.
type ProbeError struct {
	Kind   ProbeErrorKind
	Stderr string
	Err    error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe failed (%s): %v", e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// TranscodeErrorKind classifies transcode failures.
type TranscodeErrorKind int

const (
	// TranscodeToolCrashed means ffmpeg exited non-zero for a reason that
	// may be transient.
	TranscodeToolCrashed TranscodeErrorKind = iota
	// TranscodeUnsupportedInput means the input cannot be transcoded;
	// retrying the same file is pointless.
	TranscodeUnsupportedInput
	// TranscodeOutOfDisk means the scratch volume filled; worth retrying
	// once space is reclaimed.
	TranscodeOutOfDisk
)

func (k TranscodeErrorKind) String() string {
	switch k {
	case TranscodeToolCrashed:
		return "tool crashed"
	case TranscodeUnsupportedInput:
		return "unsupported input"
	case TranscodeOutOfDisk:
		return "out of disk"
	default:
		return "unknown"
	}
}

// TranscodeError reports a failed transcode. The caller must discard any
// partial output directory; it is never uploaded.
type TranscodeError struct {
	Kind   TranscodeErrorKind
	Stderr string
	Err    error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode failed (%s): %v", e.Kind, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// Retryable reports whether the failure class is transient.
func (e *TranscodeError) Retryable() bool {
	return e.Kind == TranscodeToolCrashed || e.Kind == TranscodeOutOfDisk
}
