package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard on stdin/stdout
func NewWizard() *Wizard {
	return NewWizardWithIO(os.Stdin, os.Stdout)
}

// NewWizardWithIO creates a wizard reading answers from in and writing prompts to out
func NewWizardWithIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== Warden Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	// Storage
	fmt.Fprintln(w.out, "Storage:")
	fmt.Fprintln(w.out, "  memory - ephemeral, lost on restart (default)")
	fmt.Fprintln(w.out, "  sqlite - local file")
	fmt.Fprintln(w.out, "  redis  - shared remote store")
	for {
		kind, err := w.prompt("Default backend [memory]: ")
		if err != nil {
			return nil, err
		}
		if kind == "" {
			kind = BackendMemory
		}

		backend := BackendConfig{Kind: kind}
		switch kind {
		case BackendSQLite:
			path, err := w.prompt("SQLite file [warden.db]: ")
			if err != nil {
				return nil, err
			}
			if path == "" {
				path = "warden.db"
			}
			backend.Path = path
		case BackendRedis:
			addr, err := w.prompt("Redis address [127.0.0.1:6379]: ")
			if err != nil {
				return nil, err
			}
			if addr == "" {
				addr = "127.0.0.1:6379"
			}
			backend.Address = addr
			backend.KeyPrefix = "warden:"
		}

		if err := validator.ValidateBackend(backend); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Storage.Default = backend
		break
	}

	fmt.Fprintln(w.out)

	// Eviction
	fmt.Fprintln(w.out, "Large results:")
	threshold, err := w.promptInt(fmt.Sprintf("Eviction threshold in characters [%d]: ", cfg.Eviction.CharThreshold), cfg.Eviction.CharThreshold)
	if err != nil {
		return nil, err
	}
	cfg.Eviction.CharThreshold = threshold

	fmt.Fprintln(w.out)

	// Invoker
	fmt.Fprintln(w.out, "Tool execution:")
	maxConc, err := w.promptInt(fmt.Sprintf("Max concurrent tool calls [%d]: ", cfg.Invoker.MaxConcurrency), cfg.Invoker.MaxConcurrency)
	if err != nil {
		return nil, err
	}
	cfg.Invoker.MaxConcurrency = maxConc

	retries, err := w.promptInt(fmt.Sprintf("Default max retries [%d]: ", cfg.Invoker.DefaultTool.MaxRetries), cfg.Invoker.DefaultTool.MaxRetries)
	if err != nil {
		return nil, err
	}
	cfg.Invoker.DefaultTool.MaxRetries = retries

	fmt.Fprintln(w.out)

	// Metrics
	fmt.Fprint(w.out, "Expose Prometheus metrics? (y/n) [y]: ")
	enable, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if enable == "" || strings.ToLower(enable) == "y" {
		cfg.Metrics.Enabled = true
		listen, err := w.prompt(fmt.Sprintf("Metrics listen address [%s]: ", cfg.Metrics.Listen))
		if err != nil {
			return nil, err
		}
		if listen != "" {
			cfg.Metrics.Listen = listen
		}
	} else {
		cfg.Metrics.Enabled = false
	}

	fmt.Fprintln(w.out)

	// Log Level
	fmt.Fprintln(w.out, "Logging:")
	level, err := w.prompt("Log level (debug/info/warn/error) [info]: ")
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) prompt(text string) (string, error) {
	fmt.Fprint(w.out, text)
	return w.readLine()
}

// promptInt asks until a positive integer or an empty answer (def) is given.
func (w *Wizard) promptInt(text string, def int) (int, error) {
	for {
		answer, err := w.prompt(text)
		if err != nil {
			return 0, err
		}
		if answer == "" {
			return def, nil
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < 0 {
			fmt.Fprintf(w.out, "Error: %q is not a non-negative number\n", answer)
			continue
		}
		return n, nil
	}
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
