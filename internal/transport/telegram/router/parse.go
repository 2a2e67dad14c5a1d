package router

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"remindbot/internal/config"
)

var ridSeq uint64

func newReqID() string {
	n := atomic.AddUint64(&ridSeq, 1)
	// short-ish: base36 timestamp + seq + 2 random chars
	ts := time.Now().UnixNano()
	return base36(ts) + "-" + base36(int64(n)) + randSuffix(2)
}

func randSuffix(n int) string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alpha[rand.Intn(len(alpha))])
	}
	return b.String()
}

func base36(v int64) string {
	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"
	if v < 0 {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var out [32]byte
	i := len(out)
	for v > 0 {
		i--
		out[i] = chars[v%36]
		v /= 36
	}
	return string(out[i:])
}

// tokenizeCommandLine splits command text into tokens while supporting quotes.
// Examples:
//
//	/remind 18:30 "water the plants"
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// parseWhen interprets the leading tokens of a /remind invocation as the due
// time and returns the remaining tokens (the reminder text).
//
// Accepted forms:
//
//	HH:MM              next occurrence of that wall-clock time; a time that
//	                   already passed today means tomorrow
//	in <duration>      relative, e.g. "in 45m", "in 1h30m"
//	RFC3339 timestamp  absolute, e.g. 2026-09-02T15:00:00+07:00
func parseWhen(now time.Time, loc *time.Location, args []string) (time.Time, []string, error) {
	if len(args) == 0 {
		return time.Time{}, nil, errors.New("missing time")
	}
	first := args[0]

	if strings.EqualFold(first, "in") {
		if len(args) < 2 {
			return time.Time{}, nil, errors.New(`"in" needs a duration, e.g. "in 45m"`)
		}
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("bad duration %q", args[1])
		}
		if d <= 0 {
			return time.Time{}, nil, errors.New("duration must be positive")
		}
		return now.Add(d), args[2:], nil
	}

	if hh, mm, err := config.ParseHHMM(first); err == nil {
		local := now.In(loc)
		due := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, loc)
		if !due.After(now) {
			due = due.AddDate(0, 0, 1)
		}
		return due, args[1:], nil
	}

	if ts, err := time.Parse(time.RFC3339, first); err == nil {
		return ts, args[1:], nil
	}

	return time.Time{}, nil, fmt.Errorf("unrecognized time %q", first)
}
