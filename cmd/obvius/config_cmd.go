package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/obvius/pkg/config"
)

func (a *app) runConfigCommand(args []string) error {
	subCmd := "show"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		subCmd = args[0]
		args = args[1:]
	}

	switch subCmd {
	case "check":
		return a.runConfigCheck(args)
	case "show":
		return a.runConfigShow(args)
	case "path":
		return a.runConfigPath(args)
	default:
		return withExitCode(fmt.Errorf("unknown config command: %s (use check, show, or path)", subCmd), exitUsage)
	}
}

func (a *app) runConfigCheck(args []string) error {
	fs, configPath := a.newFlagSet("config check")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := a.mustLoadConfig(*configPath)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.stdout, "Configuration OK")
	fmt.Fprintf(a.stdout, "  Listen:   %s%s\n", cfg.Server.Bind, cfg.Server.Path)
	fmt.Fprintf(a.stdout, "  Log dir:  %s (level %s)\n", cfg.Logging.Dir, cfg.Logging.Level)
	if cfg.Storage.Path != "" {
		fmt.Fprintf(a.stdout, "  Archive:  %s\n", cfg.Storage.Path)
	} else {
		fmt.Fprintln(a.stdout, "  Archive:  disabled")
	}
	if cfg.Metrics.Enabled {
		fmt.Fprintf(a.stdout, "  Metrics:  %s\n", cfg.Metrics.Path)
	} else {
		fmt.Fprintln(a.stdout, "  Metrics:  disabled")
	}
	return nil
}

func (a *app) runConfigShow(args []string) error {
	fs, configPath := a.newFlagSet("config show")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := a.mustLoadConfig(*configPath)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = a.stdout.Write(data)
	return err
}

func (a *app) runConfigPath(args []string) error {
	fs, configPath := a.newFlagSet("config path")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	paths := []struct {
		label string
		path  string
	}{
		{"User config:   ", config.UserConfigPath()},
		{"Project config:", config.ProjectConfigPath()},
	}
	if *configPath != "" {
		paths = []struct {
			label string
			path  string
		}{{"Config:        ", *configPath}}
	}

	for _, p := range paths {
		if p.path == "" {
			continue
		}
		state := "not found"
		if _, err := os.Stat(p.path); err == nil {
			state = "found"
		}
		fmt.Fprintf(a.stdout, "%s %s (%s)\n", p.label, p.path, state)
	}
	return nil
}
