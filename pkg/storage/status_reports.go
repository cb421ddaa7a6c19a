package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/obvius/pkg/errors"
)

const (
	defaultReportLimit = 50
	maxReportLimit     = 1000
)

// StatusReport is one archived STATUS upload from a device.
type StatusReport struct {
	ID           string            `json:"id"`
	ReceivedAt   time.Time         `json:"receivedAt"`
	ClientIP     string            `json:"clientIp"`
	SerialNumber string            `json:"serialNumber,omitempty"`
	LoopName     string            `json:"loopName,omitempty"`
	Fields       map[string]string `json:"fields"` // submitted fields only, keyed by protocol name
}

// StatusReportFilter narrows ListStatusReports.
type StatusReportFilter struct {
	SerialNumber string
	Limit        int
}

// SaveStatusReport inserts a report, assigning an ID and timestamp when unset.
func (s *Store) SaveStatusReport(ctx context.Context, report *StatusReport) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if report == nil {
		return errors.New(errors.ErrCodeInvalidInput, "status report is nil")
	}
	if report.ID == "" {
		report.ID = ulid.Make().String()
	}
	if report.ReceivedAt.IsZero() {
		report.ReceivedAt = time.Now().UTC()
	}
	fields := report.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "encode status report fields")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO status_reports (id, received_at, client_ip, serial_number, loop_name, fields_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, report.ID, report.ReceivedAt.UnixMilli(), report.ClientIP, report.SerialNumber, report.LoopName, string(payload))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "insert status report").
			WithContext("id", report.ID)
	}

	s.notify(newEvent(EventStatusReportSaved, report.ID, report.SerialNumber))
	return nil
}

// ListStatusReports returns the newest reports first.
func (s *Store) ListStatusReports(ctx context.Context, filter StatusReportFilter) ([]StatusReport, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultReportLimit
	}
	if limit > maxReportLimit {
		limit = maxReportLimit
	}

	query := `SELECT id, received_at, client_ip, serial_number, loop_name, fields_json FROM status_reports`
	args := []any{}
	if serial := strings.TrimSpace(filter.SerialNumber); serial != "" {
		query += ` WHERE serial_number = ?`
		args = append(args, serial)
	}
	query += ` ORDER BY received_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "query status reports")
	}
	defer rows.Close()

	reports := []StatusReport{}
	for rows.Next() {
		var (
			report     StatusReport
			receivedAt int64
			fieldsJSON string
		)
		if err := rows.Scan(&report.ID, &receivedAt, &report.ClientIP, &report.SerialNumber, &report.LoopName, &fieldsJSON); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "scan status report")
		}
		report.ReceivedAt = time.UnixMilli(receivedAt).UTC()
		report.Fields = map[string]string{}
		if err := json.Unmarshal([]byte(fieldsJSON), &report.Fields); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "decode status report fields").
				WithContext("id", report.ID)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "iterate status reports")
	}
	return reports, nil
}

// CountStatusReports returns the number of archived reports.
func (s *Store) CountStatusReports(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreClosed
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM status_reports`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeStorageRead, "count status reports")
	}
	return count, nil
}
