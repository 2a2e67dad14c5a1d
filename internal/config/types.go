package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the whole config file. JSON is the canonical wire shape;
// YAML files are accepted by coercing to JSON first (see yaml.go).
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Storage  StorageConfig  `json:"storage"`
	Digest   DigestConfig   `json:"digest"`
	Sender   SenderConfig   `json:"sender,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// StorageConfig controls the sqlite persistence layer.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// DigestConfig controls the daily broadcast to subscribers.
//
// At is wall-clock "HH:MM" interpreted in Timezone (IANA name).
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	At       string `json:"at,omitempty"`       // default "08:00"
	Timezone string `json:"timezone,omitempty"` // default process-local
	Text     string `json:"text,omitempty"`
}

// SenderConfig controls outbound Telegram sends.
type SenderConfig struct {
	// RatePerSec caps messages per second across all recipients.
	// Telegram's global bot limit is ~30/s; default 25 leaves headroom.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// Validate checks fields that would otherwise fail deep inside a service.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if c.Sender.RatePerSec < 0 {
		return errors.New("sender.rate_per_sec must be >= 0")
	}
	if c.Digest.Enabled {
		if _, _, err := ParseHHMM(firstNonEmpty(c.Digest.At, "08:00")); err != nil {
			return fmt.Errorf("digest.at: %w", err)
		}
		if tz := strings.TrimSpace(c.Digest.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("digest.timezone: %w", err)
			}
		}
	}
	return nil
}

// ParseHHMM parses "HH:MM" wall-clock time.
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
