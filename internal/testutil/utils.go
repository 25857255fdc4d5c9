package testutil

import (
	"io"
	"log"
	"testing"
)

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// TestLogger returns a logger that writes through t.Log, so output is only
// shown for failing or verbose tests. Output is discarded once the test ends
// since pumps and room workers may still log after that.
func TestLogger(t testing.TB) *log.Logger {
	logger := log.New(testWriter{t: t}, "[test] ", log.Lmicroseconds)
	t.Cleanup(func() {
		logger.SetOutput(io.Discard)
	})
	return logger
}
