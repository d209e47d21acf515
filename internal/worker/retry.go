package worker

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	minio "github.com/minio/minio-go/v7"
	"github.com/yourorg/evidence-worker/internal/truth"
)

// retry executes fn up to maxAttempts times with jittered exponential backoff.
// Base delay doubles on each attempt: 200ms -> 400ms -> 800ms, etc.
// Errors that retrying cannot fix end the loop at once.
func retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !transient(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		wait := delay
		if half := int64(delay / 2); half > 0 {
			wait += time.Duration(rand.Int63n(half))
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(wait):
		}
		delay *= 2
	}
	return lastErr
}

// transient reports whether a later attempt of the same call may succeed.
// Object storage rejections other than throttling and server errors are
// final, as are Postgres errors outside the connection, transaction
// rollback and resource classes. Unclassified errors are assumed to be
// network trouble.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var blocked *truth.ExportBlockedError
	if errors.As(err, &blocked) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		switch pgErr.Code[:2] {
		case "08", "40", "53", "57":
			return true
		}
		return false
	}
	if resp := minio.ToErrorResponse(err); resp.StatusCode != 0 {
		switch {
		case resp.StatusCode >= http.StatusInternalServerError,
			resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode == http.StatusRequestTimeout:
			return true
		}
		return false
	}
	return true
}
