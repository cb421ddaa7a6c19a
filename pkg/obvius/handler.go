// Package obvius implements the device side of the Obvius AcquiSuite upload
// protocol: shared-secret authentication, mode dispatch, STATUS diagnostics
// recording, and the fixed <pre> response envelopes devices parse.
package obvius

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/obvius/pkg/errors"
	"github.com/odvcencio/obvius/pkg/logging"
	"github.com/odvcencio/obvius/pkg/storage"
	"github.com/odvcencio/obvius/pkg/tracing"
)

// Logger is the subset of *logging.Logger the handler needs.
type Logger interface {
	Info(category logging.Category, eventType string, message string, details map[string]any) error
	Error(category logging.Category, eventType string, message string, details map[string]any) error
}

// ReportStore archives STATUS uploads.
type ReportStore interface {
	SaveStatusReport(ctx context.Context, report *storage.StatusReport) error
}

// HandlerConfig configures NewHandler.
type HandlerConfig struct {
	Password           string
	Logger             Logger
	Reports            ReportStore // optional
	MaxBodyBytes       int64
	MaxMultipartMemory int64

	// RouteParams extracts path parameters; defaults to ChiRouteParams.
	RouteParams func(*http.Request) map[string]string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Handler serves the protocol endpoint. It is safe for concurrent use.
type Handler struct {
	password    string
	logger      Logger
	reports     ReportStore
	maxBody     int64
	maxMemory   int64
	routeParams func(*http.Request) map[string]string
	now         func() time.Time
	dispatcher  *Dispatcher
}

// NewHandler builds a protocol handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		password:    cfg.Password,
		logger:      cfg.Logger,
		reports:     cfg.Reports,
		maxBody:     cfg.MaxBodyBytes,
		maxMemory:   cfg.MaxMultipartMemory,
		routeParams: cfg.RouteParams,
		now:         cfg.Now,
	}
	if h.logger == nil {
		h.logger = discardLogger{}
	}
	if h.routeParams == nil {
		h.routeParams = ChiRouteParams
	}
	if h.now == nil {
		h.now = time.Now
	}
	h.dispatcher = NewDispatcher(h.handleStatus)
	return h
}

// Dispatcher exposes the mode table.
func (h *Handler) Dispatcher() *Dispatcher {
	return h.dispatcher
}

// ServeHTTP runs the protocol pipeline: parameters, authentication, mode
// dispatch, then the mode handler. Every path ends in exactly one envelope.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	req := &Request{
		ClientIP:   ClientIP(r),
		RequestID:  requestID(r),
		ReceivedAt: start,
	}
	w.Header().Set("X-Request-ID", req.RequestID)

	ctx, span := tracing.StartSpan(r.Context(), "obvius.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			tracing.AttrClientIP.String(req.ClientIP),
			tracing.AttrRequestID.String(req.RequestID),
		),
	)
	defer span.End()

	_ = h.logger.Info(logging.CategoryProtocol, "request_received",
		fmt.Sprintf("Received Obvious protocol request from %s", req.ClientIP),
		map[string]any{"request_id": req.RequestID, "method": r.Method})

	var (
		mode    string
		comment string
		err     error
	)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err = protocolFailure(errors.ErrCodeInternal, fmt.Sprintf("panic: %v", rec), reasonInternal)
			}
		}()
		mode, comment, err = h.process(ctx, w, r, req)
	}()

	var envelope Envelope
	if err != nil {
		reason := FailureReason(err)
		envelope = Failure(reason)
		tracing.RecordError(ctx, err)
		details := map[string]any{
			"request_id": req.RequestID,
			"code":       string(errors.GetCode(err)),
		}
		if errors.IsCode(err, errors.ErrCodeInternal) {
			details["error"] = err.Error()
		}
		_ = h.logger.Error(logging.CategoryProtocol, "request_failed",
			fmt.Sprintf("Obvius protocol request from %s failed due to %s", req.ClientIP, reason),
			details)
	} else {
		envelope = Success(comment)
	}

	if mode == "" {
		mode = modeLabelNone
	}
	outcome := outcomeLabel(err)
	tracing.SetAttributes(ctx, tracing.AttrMode.String(mode), tracing.AttrOutcome.String(outcome))
	metricRequests.WithLabelValues(mode, outcome).Inc()
	metricDuration.WithLabelValues(outcome).Observe(h.now().Sub(start).Seconds())

	_ = envelope.Write(w)
}

// process returns the metrics mode label, the success comment and the
// failure, if any. Checks run in a fixed order: password presence, password
// match, mode presence, mode dispatch.
func (h *Handler) process(ctx context.Context, w http.ResponseWriter, r *http.Request, req *Request) (string, string, error) {
	body, err := readBodyFields(w, r, h.maxBody, h.maxMemory)
	if err != nil {
		return modeLabelNone, "", protocolFailure(errors.ErrCodeBadRequest, "unreadable request body",
			"Malformed request body: "+err.Error())
	}
	req.Params = NewParams(h.routeParams(r), body, r.URL.Query())

	if err := Authenticate(req.Params, h.password).Err(); err != nil {
		return modeLabelNone, "", err
	}

	result, err := h.dispatcher.Dispatch(req.Params)
	if err != nil {
		return modeLabelNone, "", err
	}
	label := modeLabel(result)
	if err := result.Err(); err != nil {
		return label, "", err
	}

	outcome := result.Handler(ctx, req)
	if outcome.Err != nil {
		return label, "", outcome.Err
	}
	return label, outcome.Comment, nil
}

// ClientIP reports the device address: the X-Forwarded-For value when a
// proxy set one, otherwise the connection's remote host.
func ClientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Request-ID")); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.NewString()
}

type discardLogger struct{}

func (discardLogger) Info(logging.Category, string, string, map[string]any) error  { return nil }
func (discardLogger) Error(logging.Category, string, string, map[string]any) error { return nil }
