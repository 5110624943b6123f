// Package testutil provides testing utilities for Atlas
package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/companyatlas/atlas/pkg/models"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// AssertEventually asserts that a condition becomes true within the specified
// timeout. It checks the condition every 10ms until it succeeds or the
// timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// SourceRecord builds a source record for tests, with a fixed received_at.
func SourceRecord(source, name, country string, extra map[string]interface{}) *models.SourceRecord {
	fields := map[string]interface{}{
		models.FieldCompanyName: name,
		models.FieldCountry:     country,
	}
	for k, v := range extra {
		fields[k] = v
	}
	return &models.SourceRecord{
		SourceSystem: source,
		Fields:       fields,
		ReceivedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}
