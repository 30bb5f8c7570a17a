package testutil

import (
	"log"
	"testing"
)

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// TestLogger returns a logger routed through t.Logf so output is
// attributed to the test that produced it.
func TestLogger(t *testing.T) *log.Logger {
	return log.New(testWriter{t: t}, "", log.LstdFlags)
}
