package store

import (
	"math/rand"
	"strings"
	"time"
)

// retryConfig bounds the backoff applied to transient SQLite errors.
//
// The web server and a scheduled refresh can write to the same database file
// at once. busy_timeout absorbs most SQLITE_BUSY errors; the rest are retried
// here.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

var transientPatterns = []string{
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
	"IOERR_SHORT_READ",
	"database is locked",
	"database table is locked",
	"(5)",
	"(6)",
	"(522)",
}

func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// retryOp runs fn until it succeeds, returns a permanent error, or the retry
// budget is spent.
func retryOp(cfg retryConfig, fn func() error) error {
	var err error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if err = fn(); err == nil || !isTransientSQLiteErr(err) {
			return err
		}
		if attempt < cfg.maxRetries {
			time.Sleep(backoffDelay(cfg, attempt))
		}
	}
	return err
}

// backoffDelay is baseDelay*2^attempt capped at maxDelay, plus up to one
// baseDelay of jitter.
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	d := cfg.baseDelay << uint(attempt)
	if d > cfg.maxDelay {
		d = cfg.maxDelay
	}
	return d + time.Duration(rand.Int63n(int64(cfg.baseDelay)))
}
