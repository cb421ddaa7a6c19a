package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/odvcencio/obvius/pkg/logging"
	"github.com/odvcencio/obvius/pkg/storage"
)

func (a *app) runReports(ctx context.Context, args []string) error {
	fs, configPath := a.newFlagSet("reports")
	limit := fs.IntP("limit", "n", 20, "number of reports to show")
	serial := fs.String("serial", "", "only show reports from this device serial number")
	asJSON := fs.Bool("json", false, "print reports as JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *limit <= 0 {
		return withExitCode(fmt.Errorf("--limit must be positive"), exitUsage)
	}

	cfg, err := a.mustLoadConfig(*configPath)
	if err != nil {
		return err
	}
	if cfg.Storage.Path == "" {
		return withExitCode(errors.New("status archive disabled (set storage.path or OBVIUS_DB_PATH)"), exitUsage)
	}

	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	reports, err := store.ListStatusReports(ctx, storage.StatusReportFilter{
		SerialNumber: *serial,
		Limit:        *limit,
	})
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	if len(reports) == 0 {
		fmt.Fprintln(a.stdout, "No status reports archived.")
		return nil
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECEIVED\tSERIAL\tLOOP\tCLIENT\tFIELDS")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			r.ReceivedAt.Format(time.RFC3339),
			dash(r.SerialNumber),
			dash(r.LoopName),
			dash(r.ClientIP),
			len(r.Fields),
		)
	}
	return tw.Flush()
}

func (a *app) runLogs(args []string) error {
	fs, configPath := a.newFlagSet("logs")
	limit := fs.IntP("limit", "n", 20, "number of events to show")
	errorsOnly := fs.Bool("errors", false, "read the error log instead of the request log")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *limit <= 0 {
		return withExitCode(fmt.Errorf("--limit must be positive"), exitUsage)
	}

	cfg, err := a.mustLoadConfig(*configPath)
	if err != nil {
		return err
	}

	file := logging.RequestLogFile
	if *errorsOnly {
		file = logging.ErrorLogFile
	}
	path := filepath.Join(cfg.Logging.Dir, file)

	events, err := logging.ReadRecentEvents(path, *limit)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(a.stdout, "No log events yet (%s).\n", path)
			return nil
		}
		if len(events) == 0 {
			return err
		}
		fmt.Fprintf(a.stderr, "warning: %v\n", err)
	}

	for _, e := range events {
		fmt.Fprintf(a.stdout, "%s %-5s %s/%s %s\n",
			e.Timestamp.Local().Format(time.RFC3339),
			strings.ToUpper(string(e.Level)),
			e.Category,
			e.EventType,
			strings.TrimRight(e.Message, "\n"),
		)
	}
	return nil
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
