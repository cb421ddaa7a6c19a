package obvius

import (
	"context"
	"strings"
	"time"

	"github.com/odvcencio/obvius/pkg/logging"
	"github.com/odvcencio/obvius/pkg/storage"
	"github.com/odvcencio/obvius/pkg/tracing"
)

// StatusFields are the parameters a STATUS upload may carry, in the order
// they appear in the status record.
var StatusFields = []string{
	"MODE",
	"SENDDATATRACE",
	"SERIALNUMBER",
	"GSMSIGNAL",
	"LOOPNAME",
	"UPTIME",
	"PERCENTBLOCKSINUSE",
	"PERCENTINODESINUSE",
	"UPLOADATTEMPT",
	"ACQUISUITEVERSION",
	"USRVERSION",
	"ROOTVERSION",
	"KERNELVERSION",
	"FIRMWAREVERSION",
	"BOOTCOUNT",
	"BATTERYGOOD",
}

// StatusField is one line of a status record.
type StatusField struct {
	Name      string
	Value     string
	Submitted bool
}

// StatusRecord is the diagnostic snapshot extracted from a STATUS upload.
type StatusRecord struct {
	ClientIP string
	Fields   []StatusField
}

// ReadStatusRecord pulls every status field out of params.
func ReadStatusRecord(params Params, clientIP string) StatusRecord {
	record := StatusRecord{
		ClientIP: clientIP,
		Fields:   make([]StatusField, 0, len(StatusFields)),
	}
	for _, name := range StatusFields {
		value, ok := params.Get(name)
		record.Fields = append(record.Fields, StatusField{Name: name, Value: value, Submitted: ok})
	}
	return record
}

// Value returns the submitted value of the named field.
func (r StatusRecord) Value(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, f.Submitted
		}
	}
	return "", false
}

// Submitted counts the fields the device actually sent.
func (r StatusRecord) Submitted() int {
	n := 0
	for _, f := range r.Fields {
		if f.Submitted {
			n++
		}
	}
	return n
}

// String renders the record as a single multi-line log message.
func (r StatusRecord) String() string {
	var b strings.Builder
	b.WriteString("Handling request from ")
	b.WriteString(r.ClientIP)
	b.WriteString("\n")
	for _, f := range r.Fields {
		if f.Submitted {
			b.WriteString("\tGot " + f.Name + ": " + f.Value + "\n")
		} else {
			b.WriteString("\tNo " + f.Name + " submitted\n")
		}
	}
	return b.String()
}

// Report converts the record into its archived form. Only submitted fields
// are kept.
func (r StatusRecord) Report(receivedAt time.Time) *storage.StatusReport {
	fields := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		if f.Submitted {
			fields[f.Name] = f.Value
		}
	}
	serial, _ := r.Value("SERIALNUMBER")
	loop, _ := r.Value("LOOPNAME")
	return &storage.StatusReport{
		ReceivedAt:   receivedAt.UTC(),
		ClientIP:     r.ClientIP,
		SerialNumber: serial,
		LoopName:     loop,
		Fields:       fields,
	}
}

// handleStatus records the device's diagnostics and acknowledges with an
// empty comment. Archive failures are logged and never change the reply.
func (h *Handler) handleStatus(ctx context.Context, req *Request) Outcome {
	record := ReadStatusRecord(req.Params, req.ClientIP)
	serial, _ := record.Value("SERIALNUMBER")
	tracing.SetAttributes(ctx, tracing.AttrSerial.String(serial))

	_ = h.logger.Info(logging.CategoryProtocol, "status_report", record.String(), map[string]any{
		"client_ip":  req.ClientIP,
		"request_id": req.RequestID,
		"serial":     serial,
		"submitted":  record.Submitted(),
	})

	if h.reports != nil {
		report := record.Report(req.ReceivedAt)
		if err := h.reports.SaveStatusReport(ctx, report); err != nil {
			metricArchiveFailures.Inc()
			tracing.RecordError(ctx, err)
			_ = h.logger.Error(logging.CategoryStorage, "status_archive_failed", "failed to archive status report", map[string]any{
				"client_ip":  req.ClientIP,
				"request_id": req.RequestID,
				"error":      err.Error(),
			})
		} else {
			metricArchived.Inc()
		}
	}

	return Outcome{}
}
