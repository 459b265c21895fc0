// Package cache provides a date-keyed store for provider responses.
// Entries are addressed by (provider, endpoint, ISO date, symbol). The
// current session date is never cached: today's data is still mutable.
package cache

import (
	"context"
	"time"
)

// Key addresses one cached provider response.
type Key struct {
	Provider string
	Endpoint string
	Date     string // ISO date, 2006-01-02
	Symbol   string
}

// Store is implemented by the file and Redis backends.
type Store interface {
	Get(ctx context.Context, key Key) ([]byte, bool)
	Put(ctx context.Context, key Key, data []byte) error
}

func isToday(date string, now func() time.Time) bool {
	return date == now().UTC().Format("2006-01-02")
}
