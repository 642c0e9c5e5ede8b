package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsRetryableError(t *testing.T) {
	var syntaxErr error
	if err := json.Unmarshal([]byte("{"), &struct{}{}); err != nil {
		syntaxErr = err
	}

	tests := []struct {
		name      string
		err       error
		retryable bool
		errType   string
	}{
		{"nil", nil, false, ""},
		{"json", syntaxErr, false, "json_decode_error"},
		{"permanent", Permanent("invalid_event", errors.New("bad")), false, "invalid_event"},
		{"wrapped permanent", fmt.Errorf("handler: %w", Permanent("invalid_event", errors.New("bad"))), false, "invalid_event"},
		{"unique", &pgconn.PgError{Code: "23505"}, false, "duplicate_key"},
		{"not null", &pgconn.PgError{Code: "23502"}, false, "constraint_violation"},
		{"conn failure", &pgconn.PgError{Code: "08006"}, true, "db_connection_error"},
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"connection text", errors.New("dial tcp: connection refused"), true, "connection_error"},
		{"unknown", errors.New("weird"), true, "unknown_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryable, errType := IsRetryableError(tt.err)
			if retryable != tt.retryable || errType != tt.errType {
				t.Errorf("IsRetryableError(%v) = (%v, %q), want (%v, %q)",
					tt.err, retryable, errType, tt.retryable, tt.errType)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	if ShouldRetry(1, 3, false) {
		t.Error("non-retryable must not retry")
	}
	if !ShouldRetry(3, 3, true) {
		t.Error("count at max should still retry")
	}
	if ShouldRetry(4, 3, true) {
		t.Error("count above max must not retry")
	}
}
