package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func redirect(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	mu.Lock()
	saved := logger
	logger = zerolog.New(&buf).Level(zerolog.DebugLevel)
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		logger = saved
		mu.Unlock()
	})
	return &buf
}

func TestLeveledOutput(t *testing.T) {
	buf := redirect(t)

	Debug("debug %d", 1)
	Info("info %d", 2)
	Warning("warning %d", 3)
	Error("error %d", 4)

	out := buf.String()
	for _, want := range []string{"debug 1", "info 2", "warning 3", "error 4"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSetLevelFilters(t *testing.T) {
	buf := redirect(t)
	SetLevel(LevelError)

	Debug("quiet")
	Info("quiet")
	Warning("quiet")
	Error("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("suppressed levels leaked through:\n%s", out)
	}
	if !strings.Contains(out, "loud") {
		t.Errorf("error output missing:\n%s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"none":       LevelNone,
		"error":      LevelError,
		"warn":       LevelWarning,
		"warning":    LevelWarning,
		"info":       LevelInfo,
		"DEBUG":      LevelDebug,
		"unexpected": LevelWarning,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %d, want %d", input, got, want)
		}
	}
}
