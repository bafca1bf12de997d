package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestSetupFormats(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format Format
		want   string
	}{
		{FormatJSON, `"key":"value"`},
		{FormatText, "key=value"},
		{FormatPretty, "key=value"},
		{"", "key=value"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		log, err := Setup(Options{Format: tc.format, Level: slog.LevelInfo, Writer: &buf, NoColor: true})
		if err != nil {
			t.Fatalf("Setup(%q): %v", tc.format, err)
		}
		log.Info("hello", "key", "value")
		if !strings.Contains(buf.String(), tc.want) {
			t.Fatalf("format %q: expected %q in %q", tc.format, tc.want, buf.String())
		}
	}

	if _, err := Setup(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestJSONLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("should not appear")
	log.Debug("also should not appear")

	if buf.Len() > 0 {
		t.Fatalf("expected no output for info/debug at warn level, got: %s", buf.String())
	}

	log.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected warn message in output, got: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := Discard()
	log.With("a", 1).WithGroup("g").Error("dropped")
}

func TestWithKeepsRequestID(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("request_id", "abc")
	log.Info("request finished", "emitted", 3)

	out := buf.String()
	for _, want := range []string{`"request_id":"abc"`, `"emitted":3`, "request finished"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in output, got: %s", want, out)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)

	ctx := WithContext(context.Background(), log)
	FromContext(ctx).Info("roundtrip test")
	if !strings.Contains(buf.String(), "roundtrip test") {
		t.Fatalf("expected message via context logger, got: %s", buf.String())
	}

	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext with no logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.input)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q): err = %v, wantErr %v", tc.input, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tc.input, tc.want, got)
		}
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Fatalf("ParseFormat(JSON) = %q, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatPretty {
		t.Fatalf("ParseFormat(\"\") = %q, %v", f, err)
	}
	if _, err := ParseFormat("yaml"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPrettyHandlerEnabled(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, &PrettyOptions{Level: slog.LevelWarn})

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error to be enabled at warn level")
	}
}

func TestPrettyNoColor(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, &PrettyOptions{NoColor: true})).Info("plain", "k", "v")

	out := buf.String()
	if strings.Contains(out, "\033[") {
		t.Fatalf("expected no escape codes, got: %q", out)
	}
	if !strings.Contains(out, "INFO  plain k=v") {
		t.Fatalf("unexpected layout: %q", out)
	}
}

func TestPrettyGroupsAndAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, &PrettyOptions{NoColor: true})

	log := slog.New(h.WithAttrs([]slog.Attr{slog.String("service", "ox")}).WithGroup("a").WithGroup("b"))
	log.Info("nested", "key", "val")

	out := buf.String()
	if !strings.Contains(out, "service=ox") || !strings.Contains(out, "a.b.key=val") {
		t.Fatalf("unexpected output: %s", out)
	}
	if h.WithGroup("") != h {
		t.Fatal("WithGroup empty string should return same handler")
	}
}

func TestPrettyValueRendering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, &PrettyOptions{NoColor: true}))
	log.Info("values",
		"msg", "hello world",
		"simple", "plain",
		"elapsed", 1500*time.Millisecond,
		"error", errors.New("bad thing"),
		slog.Group("req", "id", 7),
	)

	out := buf.String()
	for _, want := range []string{`msg="hello world"`, "simple=plain", "elapsed=1.5s", `error="bad thing"`, "req.id=7"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %q", want, out)
		}
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{"simple", false},
		{"has space", true},
		{"has\nnewline", true},
		{`has"quote`, true},
		{"k=v", true},
		{"", false},
	}
	for _, tc := range tests {
		if got := needsQuoting(tc.input); got != tc.want {
			t.Errorf("needsQuoting(%q): expected %v, got %v", tc.input, tc.want, got)
		}
	}
}
