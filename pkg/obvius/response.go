package obvius

import (
	"io"
	"net/http"
	"strconv"

	"github.com/odvcencio/obvius/pkg/errors"
)

// Reasons reported to devices. Devices match on these strings, so they are
// part of the wire format.
const (
	reasonPasswordMissing = "password parameter is required."
	reasonPasswordInvalid = "password was not correct."
	reasonModeMissing     = "Request must include mode parameter."
	reasonInternal        = "Internal error"
)

// Envelope is a fully rendered protocol response.
type Envelope struct {
	Status int
	Body   string
}

// Success renders the acknowledgement devices expect. The unbalanced quote
// before the closing tag is what deployed devices parse.
func Success(comment string) Envelope {
	return Envelope{
		Status: http.StatusOK,
		Body:   "<pre>\nSUCCESS\n " + comment + " \"</pre>",
	}
}

// Failure renders a rejection carrying reason.
func Failure(reason string) Envelope {
	return Envelope{
		Status: http.StatusNotAcceptable,
		Body:   "<pre> " + reason + " </pre>",
	}
}

// Write sends the envelope as the complete HTTP response.
func (e Envelope) Write(w http.ResponseWriter) error {
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))
	w.WriteHeader(e.Status)
	_, err := io.WriteString(w, e.Body)
	return err
}

// protocolFailure builds an error whose Reason is the device-facing text.
func protocolFailure(code errors.ErrorCode, message, reason string) *errors.Error {
	return errors.New(code, message).WithUserMessage(reason)
}

// FailureReason extracts the device-facing reason from err.
func FailureReason(err error) string {
	if e, ok := errors.As(err); ok {
		if reason := e.Reason(); reason != "" {
			return reason
		}
	}
	return reasonInternal
}
