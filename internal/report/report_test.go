package report

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
)

func newTestReporter(verbose bool) (*Reporter, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(log.New(&buf, "", 0), verbose), &buf
}

func TestCheckFailureLogsAtLevel(t *testing.T) {
	tests := []struct {
		name  string
		level Level
		want  string
	}{
		{"info", Info, "ping: boom\n"},
		{"warn", Warn, "WARN: ping: boom\n"},
		{"error", Error, "ERROR: ping: boom\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, buf := newTestReporter(false)
			if r.Check("ping", errors.New("boom"), tt.level) {
				t.Fatal("Check returned true for a failure")
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("log = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheckSuccessOnlyLoggedWhenVerbose(t *testing.T) {
	r, buf := newTestReporter(false)
	if !r.Check("ping", nil, Error) {
		t.Fatal("Check returned false for success")
	}
	if buf.Len() != 0 {
		t.Errorf("quiet reporter logged %q", buf.String())
	}

	r.SetVerbose(true)
	r.Check("ping", nil, Error)
	if !strings.Contains(buf.String(), "ping: ok") {
		t.Errorf("verbose reporter logged %q", buf.String())
	}
}

func TestVerbosef(t *testing.T) {
	r, buf := newTestReporter(false)
	r.Verbosef("hidden %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("Verbosef logged while quiet: %q", buf.String())
	}
	r.SetVerbose(true)
	r.Verbosef("shown %d", 2)
	if got := buf.String(); got != "shown 2\n" {
		t.Errorf("log = %q", got)
	}
}
