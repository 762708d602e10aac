package sysutil

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// restoreLogging puts the zerolog globals back when the test ends.
func restoreLogging(t *testing.T) {
	t.Helper()
	lvl := zerolog.GlobalLevel()
	logger := log.Logger
	ctxLogger := zerolog.DefaultContextLogger
	tff := zerolog.TimeFieldFormat
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(lvl)
		log.Logger = logger
		zerolog.DefaultContextLogger = ctxLogger
		zerolog.TimeFieldFormat = tff
	})
}

func TestSetLogLevel_AllVariants(t *testing.T) {
	restoreLogging(t)

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"  DeBuG  ", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"trace", zerolog.InfoLevel},
	}

	for _, tc := range cases {
		SetLogLevel(tc.in)
		if got := zerolog.GlobalLevel(); got != tc.want {
			t.Fatalf("SetLogLevel(%q) -> %v; want %v", tc.in, got, tc.want)
		}
	}
}

func TestConfigureLogging_JSON(t *testing.T) {
	restoreLogging(t)
	var buf bytes.Buffer

	ConfigureLogging(&buf, "info", false, "notify-bot")
	log.Debug().Msg("hidden")
	zerolog.Ctx(context.Background()).Info().Str("conversation", "c1").Msg("sent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if entry["service"] != "notify-bot" || entry["conversation"] != "c1" || entry["message"] != "sent" {
		t.Fatalf("entry = %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatalf("missing timestamp: %v", entry)
	}
}

func TestConfigureLogging_Pretty(t *testing.T) {
	restoreLogging(t)
	var buf bytes.Buffer

	ConfigureLogging(&buf, "debug", true, "notify-bot")
	log.Debug().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, "hello") || strings.HasPrefix(out, "{") {
		t.Fatalf("expected console output, got %q", out)
	}
}
