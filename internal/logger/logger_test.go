package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestPrettyFormatterLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, logrus.DebugLevel)
	l.SetFormatter(&PrettyFormatter{DisableColors: true})

	l.WithField("peer", "abcd1234").WithField("channel", "reliable").Warn("Unhandled event")

	line := buf.String()
	if !strings.Contains(line, "WARN  Unhandled event") {
		t.Errorf("Expected level and message, got %q", line)
	}
	if !strings.HasSuffix(line, " channel=reliable peer=abcd1234\n") {
		t.Errorf("Expected sorted fields, got %q", line)
	}
}

func TestNewFallsBackToInfo(t *testing.T) {
	if lvl := New("nonsense").GetLevel(); lvl != logrus.InfoLevel {
		t.Errorf("Expected info level, got %s", lvl)
	}
	if lvl := New("debug").GetLevel(); lvl != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", lvl)
	}
}

func TestColorizeLevel(t *testing.T) {
	f := &PrettyFormatter{}
	got := f.colorizeLevel(logrus.ErrorLevel)
	if !strings.HasPrefix(got, colorRed) || !strings.HasSuffix(got, colorReset) {
		t.Errorf("Expected red error level, got %q", got)
	}
}
