package nlog

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	SetLevel(LevelWarn)
	Infof("should not appear %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("expected info to be suppressed at LevelWarn, got %q", buf.String())
	}

	Warningf("should appear %d", 2)
	if !strings.Contains(buf.String(), "should appear 2") {
		t.Fatalf("expected warning line, got %q", buf.String())
	}
}

func TestWriteAppendsNewline(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel(LevelInfo)

	Infof("hello")
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("expected trailing newline, got %q", buf.String())
	}
}
