// Package directory maps MARx contract codes to carrier name and plan type.
//
// The table is loaded once into memory and served from a read-through cache
// guarded by a RWMutex, so concurrent reconciliation workers read it in
// parallel and a refresh swaps it atomically.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marx-cli/internal/model"
)

// Loader reads the full directory from its backing store.
type Loader interface {
	Load(ctx context.Context) ([]model.ContractEntry, error)
}

// Directory is a cached contract directory.
type Directory struct {
	loader Loader

	mu       sync.RWMutex
	index    map[string]model.ContractEntry
	size     int
	loadedAt time.Time
}

// New creates a Directory. Nothing is read until the first Lookup or Refresh.
func New(loader Loader) *Directory {
	return &Directory{loader: loader}
}

// Lookup returns the carrier name and plan type for a contract code, or two
// empty strings when the code is unknown. The first row for a code wins.
func (d *Directory) Lookup(ctx context.Context, contractCode string) (string, string, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return "", "", err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.index[contractCode]
	if !ok {
		return "", "", nil
	}
	return e.CarrierName, e.PlanType, nil
}

// Refresh reloads the table from the loader and swaps it in.
func (d *Directory) Refresh(ctx context.Context) error {
	entries, err := d.loader.Load(ctx)
	if err != nil {
		return eris.Wrap(err, "directory: refresh")
	}

	index := buildIndex(entries)

	d.mu.Lock()
	d.index = index
	d.size = len(entries)
	d.loadedAt = time.Now()
	d.mu.Unlock()

	zap.L().Debug("directory: loaded", zap.Int("rows", len(entries)), zap.Int("codes", len(index)))
	return nil
}

// Watch refreshes the table every interval until ctx is done. Refresh
// failures are logged and the previous table is kept.
func (d *Directory) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
				zap.L().Warn("directory: refresh failed, keeping previous table", zap.Error(err))
			}
		}
	}
}

// Len returns the number of rows in the loaded table.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.size
}

// LoadedAt returns when the table was last loaded.
func (d *Directory) LoadedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loadedAt
}

func (d *Directory) ensureLoaded(ctx context.Context) error {
	d.mu.RLock()
	loaded := d.index != nil
	d.mu.RUnlock()
	if loaded {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.index != nil {
		return nil
	}

	entries, err := d.loader.Load(ctx)
	if err != nil {
		return eris.Wrap(err, "directory: load")
	}
	d.index = buildIndex(entries)
	d.size = len(entries)
	d.loadedAt = time.Now()
	return nil
}

// buildIndex keeps the first row for each code so directory order decides ties.
func buildIndex(entries []model.ContractEntry) map[string]model.ContractEntry {
	index := make(map[string]model.ContractEntry, len(entries))
	for _, e := range entries {
		if e.ContractCode == "" {
			continue
		}
		if _, dup := index[e.ContractCode]; dup {
			continue
		}
		index[e.ContractCode] = e
	}
	return index
}
