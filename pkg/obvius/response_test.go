package obvius

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/obvius/pkg/errors"
)

func TestEnvelopes(t *testing.T) {
	tests := []struct {
		name   string
		env    Envelope
		status int
		body   string
	}{
		{"empty success", Success(""), 200, "<pre>\nSUCCESS\n  \"</pre>"},
		{"success with comment", Success("stored"), 200, "<pre>\nSUCCESS\n stored \"</pre>"},
		{"failure", Failure("password was not correct."), 406, "<pre> password was not correct. </pre>"},
		{"failure with quotes", Failure("Unknown mode 'X'"), 406, "<pre> Unknown mode 'X' </pre>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.env.Status)
			assert.Equal(t, tt.body, tt.env.Body)

			rec := httptest.NewRecorder()
			require.NoError(t, tt.env.Write(rec))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
			assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
			assert.Equal(t, fmt.Sprint(len(tt.body)), rec.Header().Get("Content-Length"))
		})
	}
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "custom", FailureReason(protocolFailure(errors.ErrCodeBadRequest, "internal detail", "custom")))
	assert.Equal(t, "plain message", FailureReason(errors.New(errors.ErrCodeStorageWrite, "plain message")))
	assert.Equal(t, "Internal error", FailureReason(fmt.Errorf("not ours")))
	assert.Equal(t, http.StatusNotAcceptable, Failure("x").Status)
}
