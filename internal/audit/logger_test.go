package audit

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	cfg := DefaultConfig()
	cfg.Output = "file:" + path
	cfg.FlushInterval = 10 * time.Millisecond

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.LogPolicyDecision(context.Background(), "run-1", "browser.click", "deny", "P_DENY_CREDENTIAL_FIELD")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "P_DENY_CREDENTIAL_FIELD")
}

func TestLoggerSamplingDropsEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "stdout"
	cfg.SampleRate = math.SmallestNonzeroFloat64
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	defer logger.Close()

	// A zero SampleRate means "unset" and defaults to 1.0, so the smallest
	// positive rate is used here: with it nothing reaches the buffer.
	logger.LogRunTransition(context.Background(), "run-1", "observing", "planning", "")
	require.Len(t, logger.buffer, 0)
}

func TestDisabledLoggerIsNoOp(t *testing.T) {
	logger, err := NewLogger(Config{Enabled: false})
	require.NoError(t, err)
	logger.LogRunTransition(context.Background(), "run-1", "idle", "observing", "")
	require.NoError(t, logger.Close())
}
