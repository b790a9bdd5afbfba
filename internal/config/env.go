package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// envReader applies environment variables to config fields. Unset or blank
// variables keep the default; the first failure is kept in err and later
// variables are skipped.
type envReader struct {
	err error
}

func (e *envReader) parse(key string, apply func(value string) error) {
	if e.err != nil {
		return
	}
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	if err := apply(value); err != nil {
		e.err = fmt.Errorf("parse %s: %w", key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	e.parse(key, func(value string) error {
		*dst = value
		return nil
	})
}

func (e *envReader) list(key string, dst *[]string) {
	e.parse(key, func(value string) error {
		items := splitAndTrim(value, ",")
		if len(items) == 0 {
			return fmt.Errorf("must not be empty")
		}
		*dst = items
		return nil
	})
}

func (e *envReader) boolean(key string, dst *bool) {
	e.parse(key, func(value string) error {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		*dst = enabled
		return nil
	})
}

// duration accepts positive Go durations only.
func (e *envReader) duration(key string, dst *time.Duration) {
	e.parse(key, func(value string) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("must be > 0")
		}
		*dst = d
		return nil
	})
}

func (e *envReader) intRange(key string, lo, hi int, dst *int) {
	e.parse(key, func(value string) error {
		return parseIntRange(value, lo, hi, dst)
	})
}

func (e *envReader) level(key string, dst *slog.Level) {
	e.parse(key, func(value string) error {
		level, err := parseLogLevel(value)
		if err != nil {
			return err
		}
		*dst = level
		return nil
	})
}

func parseIntRange(value string, lo, hi int, dst *int) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	if n < lo || n > hi {
		return fmt.Errorf("must be in %d..%d", lo, hi)
	}
	*dst = n
	return nil
}

func parseTerminalMode(value string) (TerminalMode, error) {
	if strings.EqualFold(value, "auto") {
		return TerminalAuto, nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return TerminalAuto, err
	}
	if enabled {
		return TerminalOn, nil
	}
	return TerminalOff, nil
}
