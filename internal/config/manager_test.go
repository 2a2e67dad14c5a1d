package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

const validYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: 10s
storage:
  path: /tmp/bot.db
  busy_timeout: 3s
digest:
  enabled: true
  at: "08:30"
  timezone: Europe/Berlin
  text: "good morning"
sender:
  rate_per_sec: 20
logging:
  level: debug
  console: true
`

func TestLoadValidYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Digest.At != "08:30" || !cfg.Digest.Enabled {
		t.Fatalf("digest = %+v", cfg.Digest)
	}
	if cfg.Sender.RatePerSec != 20 {
		t.Fatalf("rate = %d", cfg.Sender.RatePerSec)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nsurprise: true\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestParseRejectsMissingToken(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", `
telegram:
  token: ""
storage:
  path: /tmp/bot.db
logging:
  console: true
`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("empty token accepted")
	}
}

func TestParseRejectsBadDigestTime(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
storage:
  path: /tmp/bot.db
digest:
  enabled: true
  at: "25:61"
logging:
  console: true
`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("bad digest.at accepted")
	}
}

func TestParseAcceptsJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{
  "telegram": {"token": "123:abc"},
  "storage": {"path": "/tmp/bot.db"},
  "digest": {"enabled": false},
  "logging": {"console": true}
}`))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Storage.Path != "/tmp/bot.db" {
		t.Fatalf("path = %q", cfg.Storage.Path)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := ParseHHMM("23:05")
	if err != nil {
		t.Fatalf("ParseHHMM: %v", err)
	}
	if h != 23 || m != 5 {
		t.Fatalf("got %d:%d", h, m)
	}
	for _, bad := range []string{"", "8", "8:5:3", "24:00", "12:60", "aa:bb"} {
		if _, _, err := ParseHHMM(bad); err == nil {
			t.Fatalf("ParseHHMM(%q) accepted", bad)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", " 1m30s ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d != 90*time.Second {
		t.Fatalf("d = %v", d)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
}
