package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/atomicio"
	"github.com/alphaledger/signalrun/internal/metrics"
)

// FileCache stores entries as JSON files under dir/provider/endpoint/.
// Writes are atomic (same-directory temp + rename) so a crash cannot leave
// a partial entry for the next run to read.
type FileCache struct {
	dir string
	now func() time.Time
}

func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir, now: time.Now}
}

func (c *FileCache) Get(ctx context.Context, key Key) ([]byte, bool) {
	if isToday(key.Date, c.now) {
		return nil, false
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	metrics.CacheHits.WithLabelValues(key.Provider).Inc()
	return data, true
}

func (c *FileCache) Put(ctx context.Context, key Key, data []byte) error {
	if isToday(key.Date, c.now) {
		return nil
	}
	if err := atomicio.WriteFile(c.path(key), data); err != nil {
		// Cache writes are best-effort; the pipeline proceeds without them.
		log.Warn().Str("provider", key.Provider).Str("endpoint", key.Endpoint).
			Err(err).Msg("cache write failed")
		return err
	}
	return nil
}

func (c *FileCache) path(key Key) string {
	name := key.Date
	if key.Symbol != "" {
		name = fmt.Sprintf("%s_%s", key.Date, key.Symbol)
	}
	endpoint := strings.ReplaceAll(strings.Trim(key.Endpoint, "/"), "/", "_")
	return filepath.Join(c.dir, key.Provider, endpoint, name+".json")
}
