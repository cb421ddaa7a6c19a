package obvius

import (
	"context"
	"time"

	"github.com/odvcencio/obvius/pkg/errors"
)

// Mode names the operation a device requests. Matching is exact: the
// protocol sends modes upper-case.
type Mode string

const (
	ModeStatus         Mode = "STATUS"
	ModeLogfileUpload  Mode = "LOGFILEUPLOAD"
	ModeConfigManifest Mode = "CONFIGFILEMANIFEST"
	ModeConfigUpload   Mode = "CONFIGFILEUPLOAD"
	ModeConfigDownload Mode = "CONFIGFILEDOWNLOAD"
	ModeTest           Mode = "MODE_TEST"
)

var notImplementedReasons = map[Mode]string{
	ModeLogfileUpload:  "Logfile Upload Not Implemented",
	ModeConfigDownload: "Config Download Not Implemented",
	ModeConfigManifest: "Config Manifest Not Implemented",
	ModeConfigUpload:   "Config Upload Not Implemented",
	ModeTest:           "Test Not Implemented",
}

// Request is the authenticated request handed to a mode handler.
type Request struct {
	Params     Params
	ClientIP   string
	RequestID  string
	ReceivedAt time.Time
}

// Outcome is what a mode handler decided. A nil Err means success with
// Comment as the acknowledgement text.
type Outcome struct {
	Comment string
	Err     error
}

// ModeHandler processes one mode.
type ModeHandler func(ctx context.Context, req *Request) Outcome

// ModeResult is the dispatch decision for one request.
type ModeResult struct {
	Mode    Mode
	Raw     string
	Handler ModeHandler
}

// Known reports whether a handler exists for the requested mode.
func (m ModeResult) Known() bool {
	return m.Handler != nil
}

// Err returns the unknown-mode failure, or nil for a known mode.
func (m ModeResult) Err() error {
	if m.Known() {
		return nil
	}
	return protocolFailure(errors.ErrCodeModeUnknown, "unsupported mode", "Unknown mode '"+m.Raw+"'").
		WithContext("mode", m.Raw)
}

// Dispatcher maps mode names to handlers.
type Dispatcher struct {
	handlers map[Mode]ModeHandler
}

// NewDispatcher registers status for STATUS and the not-implemented
// responders for every other recognised mode.
func NewDispatcher(status ModeHandler) *Dispatcher {
	handlers := make(map[Mode]ModeHandler, len(notImplementedReasons)+1)
	for mode, reason := range notImplementedReasons {
		handlers[mode] = notImplemented(mode, reason)
	}
	handlers[ModeStatus] = status
	return &Dispatcher{handlers: handlers}
}

// Dispatch selects the handler for the request's mode parameter. It fails
// only when mode is absent; an unrecognised mode yields a ModeResult whose
// Known reports false.
func (d *Dispatcher) Dispatch(params Params) (ModeResult, error) {
	raw, ok := params.Get("mode")
	if !ok {
		return ModeResult{}, protocolFailure(errors.ErrCodeModeMissing, "mode parameter absent", reasonModeMissing)
	}
	mode := Mode(raw)
	return ModeResult{Mode: mode, Raw: raw, Handler: d.handlers[mode]}, nil
}

// Modes lists the modes with a registered handler.
func (d *Dispatcher) Modes() []Mode {
	modes := make([]Mode, 0, len(d.handlers))
	for _, m := range []Mode{ModeStatus, ModeLogfileUpload, ModeConfigManifest, ModeConfigUpload, ModeConfigDownload, ModeTest} {
		if d.handlers[m] != nil {
			modes = append(modes, m)
		}
	}
	return modes
}

func notImplemented(mode Mode, reason string) ModeHandler {
	return func(context.Context, *Request) Outcome {
		return Outcome{Err: protocolFailure(errors.ErrCodeModeNotImplemented, "mode not implemented", reason).
			WithContext("mode", string(mode))}
	}
}
