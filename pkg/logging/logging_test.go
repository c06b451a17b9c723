package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/eunmann/singerlake/internal/logctx"
)

func TestInit_DoesNotPanic(t *testing.T) {
	// Test JSON mode (default)
	Init(false, false)
	log := L()
	log.Info().Msg("test json info")
	log.Debug().Msg("test json debug (should not appear at info level)")

	// Test debug mode
	Init(true, false)
	log = L()
	log.Debug().Msg("test json debug (should appear)")

	// Test human-friendly mode
	Init(false, true)
	log = L()
	log.Info().Msg("test human info")

	// Test debug + human
	Init(true, true)
	log = L()
	log.Debug().Msg("test human debug")
}

func TestWithPhase(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	log := WithPhase("write")
	log.Info().Msg("test message")

	output := buf.String()
	if output == "" {
		t.Error("expected log output, got empty string")
	}

	// Check that phase field is present
	if !bytes.Contains(buf.Bytes(), []byte(`"phase":"write"`)) {
		t.Errorf("expected phase field in output, got: %s", output)
	}
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	customLogger := zerolog.New(&buf).With().Str("custom", "field").Logger()
	SetLogger(customLogger)

	L().Info().Msg("test")

	if !bytes.Contains(buf.Bytes(), []byte(`"custom":"field"`)) {
		t.Errorf("expected custom field in output, got: %s", buf.String())
	}

	// Reset to default for other tests
	Init(false, false)
}

func TestSetLoggerSetsContextDefault(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf).With().Str("custom", "default").Logger())
	defer Init(false, false)

	log := logctx.FromContext(context.Background())
	log.Info().Msg("test")

	if !bytes.Contains(buf.Bytes(), []byte(`"custom":"default"`)) {
		t.Errorf("expected context default to use the configured logger, got: %s", buf.String())
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		debug     bool
		human     bool
		wantDebug bool
		wantJSON  bool
	}{
		{"json_info", false, false, false, true},
		{"json_debug", true, false, true, true},
		{"human_info", false, true, false, false},
		{"human_debug", true, true, true, false},
	}
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := newLogger(&buf, tt.debug, tt.human)
			log.Info().Str("tap_id", "tap").Msg("info line")
			log.Debug().Msg("debug line")

			out := buf.String()
			if !strings.Contains(out, "info line") {
				t.Errorf("info line missing: %s", out)
			}
			if got := strings.Contains(out, "debug line"); got != tt.wantDebug {
				t.Errorf("debug line present = %v, want %v: %s", got, tt.wantDebug, out)
			}
			if got := strings.HasPrefix(out, "{"); got != tt.wantJSON {
				t.Errorf("JSON output = %v, want %v: %s", got, tt.wantJSON, out)
			}
		})
	}
}
