package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger for components under test, prefixed so relay
// output is distinguishable in interleaved test runs.
func TestLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(os.Stdout, "[chat-relay-test] ", log.LstdFlags|log.Lmsgprefix)
}
