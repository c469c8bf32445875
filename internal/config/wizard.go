package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard that prompts on out and reads answers from in.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run asks for the settings most deployments change and returns a config
// built on the defaults. Empty answers keep the default shown in brackets.
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== Pulse Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	release, err := w.ask("Release (e.g. my-app@1.2.0)", "")
	if err != nil {
		return nil, err
	}
	cfg.Release = release

	environment, err := w.ask("Environment", "production")
	if err != nil {
		return nil, err
	}
	cfg.Environment = environment

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Transport options:")
	fmt.Fprintln(w.out, "  noop      - Aggregate but discard payloads (default)")
	fmt.Fprintln(w.out, "  http      - POST envelopes to a collector")
	fmt.Fprintln(w.out, "  websocket - Stream envelopes to a relay")

	for {
		kind, err := w.ask("Transport", cfg.Transport.Kind)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateTransportKind(kind); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Transport.Kind = kind
		break
	}

	if cfg.Transport.Kind != TransportNoop {
		for {
			endpoint, err := w.ask("Endpoint URL", "")
			if err != nil {
				return nil, err
			}
			if err := validator.ValidateTransportURL(cfg.Transport.Kind, endpoint); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
			cfg.Transport.URL = endpoint
			break
		}

		token, err := w.ask("Auth token (press Enter to skip)", "")
		if err != nil {
			return nil, err
		}
		cfg.Transport.AuthToken = token
	}

	fmt.Fprintln(w.out)

	interval, err := w.ask("Flush interval in seconds", strconv.Itoa(cfg.Flusher.Interval))
	if err != nil {
		return nil, err
	}
	if n, convErr := strconv.Atoi(interval); convErr != nil || validator.ValidateInterval(n) != nil {
		fmt.Fprintf(w.out, "Warning: invalid interval %q, using default (%d)\n", interval, cfg.Flusher.Interval)
	} else {
		cfg.Flusher.Interval = n
	}

	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
	} else {
		cfg.Logging.Level = level
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}

	line, err := w.readLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return def, nil
	}
	return line, nil
}

// readLine fails once input is exhausted so a re-asking prompt cannot spin.
func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if line == "" {
				return "", io.ErrUnexpectedEOF
			}
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
