package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"jobbot/internal/transport"
)

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "dispatch"))
	log.Debug("hidden")
	log.Info("sent", Int("n", 3), Bool("ok", true), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("json: %v", err)
	}
	if m["message"] != "sent" || m["comp"] != "dispatch" || m["n"] != float64(3) || m["ok"] != true {
		t.Fatalf("entry = %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestZeroAndNopLoggers(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() || Nop().IsZero() {
		t.Fatal("IsZero mismatch")
	}
	// must not panic
	zero.Error("nothing", Err(errors.New("x")))
	Nop().With(String("a", "b")).Warn("nothing")
}

func TestFormatTelegramLine(t *testing.T) {
	t.Parallel()
	got := formatTelegramLine([]byte(`{"level":"warn","time":"t","message":"feed <down>","source":"ssc","attempt":2}`))
	want := "<b>[WARN]</b> feed &lt;down&gt;\n- attempt=2\n- source=ssc"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := formatTelegramLine([]byte("plain & simple")); got != "plain &amp; simple" {
		t.Fatalf("non-json line = %q", got)
	}
}

type captureSender struct {
	mu   sync.Mutex
	msgs []transport.Message
	chat int64
}

func (c *captureSender) Send(_ context.Context, chatID int64, msg transport.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chat = chatID
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestServiceMirrorsWarningsToTelegram(t *testing.T) {
	sender := &captureSender{}
	cfg := Config{Level: "debug", File: FileConfig{Enabled: true, Path: t.TempDir() + "/bot.log"}}
	svc, log := New(cfg, sender)
	defer svc.Close()

	svc.SetTelegramTarget(-100777)
	cfg.Telegram = TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10}
	svc.Apply(cfg)

	log.Info("routine")
	log.Warn("source failing", String("source", "upsc"))

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(sender.msgs))
	}
	if sender.chat != -100777 || !strings.Contains(sender.msgs[0].Text, "source failing") || sender.msgs[0].ParseMode != "HTML" {
		t.Fatalf("message = %+v to %d", sender.msgs[0], sender.chat)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefghijklmnop", 12, "abcdefghi..."},
		{"abcdefgh", 4, "abcd"},
		{"unbounded", 0, "unbounded"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.max); got != tc.want {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
