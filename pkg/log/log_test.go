package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newBufferLogger(buf *bytes.Buffer, level Level, f Formatter) Logger {
	return NewLogger(WithLevel(level), WithFormatter(f), WithOutput(NewWriterOutput(buf)))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLevel(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseLevel(%q)=%v want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, WarnLevel, &TextFormatter{DisableTimestamp: true})
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info entry should be filtered: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn entry missing: %q", buf.String())
	}

	buf.Reset()
	l.SetLevel(DebugLevel)
	l.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Fatalf("SetLevel not applied: %q", buf.String())
	}
}

func TestTextFormatterComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, InfoLevel, &TextFormatter{DisableTimestamp: true})
	l.WithComponent("worker").Info("tick", Uint64("version", 7), Str("session", "s1"))
	got := buf.String()
	want := "INFO  [worker] tick session=s1 version=7\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, InfoLevel, &JSONFormatter{})
	l.WithError(errors.New("boom")).Error("flush failed", Int("n", 3))

	var obj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if obj["msg"] != "flush failed" || obj["level"] != "ERROR" || obj["error"] != "boom" {
		t.Fatalf("unexpected entry: %v", obj)
	}
	if obj["n"].(float64) != 3 {
		t.Fatalf("field n missing: %v", obj)
	}
}

func TestApplyConfigWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oplog.log")
	l, err := ApplyConfig(&Config{Level: "info", Format: "json", File: path})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	l.Info("to file")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), "to file") {
		t.Fatalf("file output missing entry: %q", b)
	}

	if _, err := ApplyConfig(&Config{Format: "xml"}); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestToStdLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, InfoLevel, &TextFormatter{DisableTimestamp: true})
	std := ToStdLogger(l, WarnLevel)
	std.Print("from pebble")
	if got := buf.String(); got != "WARN  from pebble\n" {
		t.Fatalf("got %q", got)
	}
}
