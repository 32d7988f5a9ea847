// Package memory is the in-process asset store used when no database is configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/dkeye/Arena/internal/domain"
)

type AssetStore struct {
	mu     sync.RWMutex
	assets map[domain.AssetID]domain.Asset
}

func NewAssetStore(seed ...domain.Asset) *AssetStore {
	s := &AssetStore{assets: make(map[domain.AssetID]domain.Asset, len(seed))}
	for _, a := range seed {
		s.assets[a.ID] = a
	}
	return s
}

// LoadSeedFile reads a JSON array of models in the /api/models format.
func LoadSeedFile(path string) ([]domain.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var seed []domain.Asset
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	for i, a := range seed {
		if err := domain.ValidateAssets([]domain.AssetID{a.ID}); err != nil {
			return nil, fmt.Errorf("seed entry %d: %w", i, err)
		}
	}
	return seed, nil
}

func (s *AssetStore) Put(a domain.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[a.ID] = a
}

func (s *AssetStore) Get(id domain.AssetID) (domain.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	return a, ok
}

// MarkInUse flags the known ids as used by sid. Unknown ids are ignored
// unless none of them is known.
func (s *AssetStore) MarkInUse(ctx context.Context, sid domain.SessionID, ids []domain.AssetID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	marked := 0
	for _, id := range ids {
		a, ok := s.assets[id]
		if !ok {
			continue
		}
		owner := sid
		a.InUse = true
		a.SessionID = &owner
		s.assets[id] = a
		marked++
	}
	if marked == 0 {
		return fmt.Errorf("marking models in use: %w", domain.ErrAssetNotFound)
	}
	return nil
}

// ListUnused returns unused assets, newest first.
func (s *AssetStore) ListUnused(ctx context.Context) ([]domain.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]domain.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		if !a.InUse {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out, nil
}
