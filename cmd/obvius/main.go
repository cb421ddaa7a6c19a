package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/odvcencio/obvius/pkg/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// app carries the process streams and config loader so commands can be
// driven from tests.
type app struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig func(path string) (*config.Config, error)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:     stdout,
		stderr:     stderr,
		loadConfig: loadConfig,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := newApp(os.Stdout, os.Stderr).run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func (a *app) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		a.printHelp()
		return exitUsage
	}

	switch args[0] {
	case "--version", "-v", "version":
		a.printVersion()
		return exitOK
	case "--help", "-h", "help":
		a.printHelp()
		return exitOK
	case "serve":
		return a.runCommand(func(rest []string) error { return a.runServe(ctx, rest) }, args[1:])
	case "config":
		return a.runCommand(a.runConfigCommand, args[1:])
	case "reports":
		return a.runCommand(func(rest []string) error { return a.runReports(ctx, rest) }, args[1:])
	case "logs":
		return a.runCommand(a.runLogs, args[1:])
	default:
		if strings.HasPrefix(args[0], "-") {
			fmt.Fprintf(a.stderr, "Error: unknown flag: %s\n", args[0])
		} else {
			fmt.Fprintf(a.stderr, "Error: unknown command: %s\n", args[0])
		}
		fmt.Fprintln(a.stderr, "Run 'obvius --help' for usage.")
		return exitUsage
	}
}

func (a *app) runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return exitOK
}

// newFlagSet returns a flag set that reports errors instead of exiting and
// registers the shared --config flag.
func (a *app) newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	configPath := fs.StringP("config", "c", "", "path to config file (default: ~/.obvius/config.yaml then ./.obvius/config.yaml)")
	return fs, configPath
}

func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() > 0 {
		return withExitCode(fmt.Errorf("unexpected argument: %s", fs.Arg(0)), exitUsage)
	}
	return nil
}

func (a *app) mustLoadConfig(path string) (*config.Config, error) {
	cfg, err := a.loadConfig(path)
	if err != nil {
		return nil, withExitCode(err, exitUsage)
	}
	return cfg, nil
}

func (a *app) printVersion() {
	fmt.Fprintf(a.stdout, "obvius %s\n", version)
	if commit != "unknown" {
		fmt.Fprintf(a.stdout, "  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Fprintf(a.stdout, "  Built:      %s\n", buildDate)
	}
	fmt.Fprintf(a.stdout, "  Go version: %s\n", runtime.Version())
}

func (a *app) printHelp() {
	fmt.Fprint(a.stdout, `obvius - ingestion endpoint for Obvius AcquiSuite data loggers

Usage:
  obvius <command> [flags]

Commands:
  serve                 Run the protocol endpoint until interrupted
  config check          Validate configuration
  config show           Print the effective configuration (secret masked)
  config path           Show where configuration is read from
  reports               List archived STATUS reports
  logs                  Print recent audit log events
  version               Print version information
  help                  Show this help

Every command accepts -c/--config to read a specific config file.
Run 'obvius <command> --help' for command flags.
`)
}
