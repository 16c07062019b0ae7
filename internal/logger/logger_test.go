package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"verbose", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel(LevelWarn)

	Debug("dropped debug")
	Info("dropped info")
	Warn("kept warn")
	Error("kept error")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("messages below the level leaked through:\n%s", out)
	}
	if !strings.Contains(out, "WARN kept warn") {
		t.Errorf("warn message missing:\n%s", out)
	}
	if !strings.Contains(out, "ERROR kept error") {
		t.Errorf("error message missing:\n%s", out)
	}
}

func TestFormatArgs(t *testing.T) {
	buf := capture(t)
	SetLevel(LevelDebug)

	Info("synced %d of %d", 3, 5)

	if !strings.Contains(buf.String(), "synced 3 of 5") {
		t.Errorf("formatted output wrong:\n%s", buf.String())
	}
}

func TestLogFileReceivesMessages(t *testing.T) {
	capture(t)
	path := filepath.Join(t.TempDir(), "fieldsync.log")
	if err := SetLogFile(path); err != nil {
		t.Fatalf("SetLogFile failed: %v", err)
	}
	t.Cleanup(Close)

	Info("written to file")
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file content wrong:\n%s", data)
	}
}
