package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bobby854854854/LexiSense/config"
	"github.com/bobby854854854/LexiSense/model"
)

// ContractStore persists contract records. Tenant scoped reads return
// ErrNotFound for records owned by another tenant. MarkActive and
// MarkFailed only apply to records still processing and return
// ErrNotProcessing otherwise.
type ContractStore interface {
	Create(ctx context.Context, c *model.Contract) error
	Get(ctx context.Context, tenantID, id string) (*model.Contract, error)
	GetByID(ctx context.Context, id string) (*model.Contract, error)
	List(ctx context.Context, tenantID string) ([]*model.Contract, error)
	ListProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*model.Contract, error)
	MarkActive(ctx context.Context, id string, result *model.AnalysisResult) error
	MarkFailed(ctx context.Context, id, diagnostic string) error
	Delete(ctx context.Context, tenantID, id string) error
	Close() error
}

// NewContractStore opens the store selected by cfg.Driver.
func NewContractStore(ctx context.Context, cfg *config.StoreConfig) (ContractStore, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryContractStore(cfg.MaxContracts), nil
	case "postgres", "sqlite":
		return OpenSQLContractStore(ctx, cfg)
	}
	return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
}

// MemoryContractStore keeps contracts in process. Records are copied on
// the way in and out so callers never share state with the store.
type MemoryContractStore struct {
	contracts    map[string]*model.Contract
	mu           sync.RWMutex
	maxContracts int // Maximum contracts to keep, 0 = unlimited
	now          func() time.Time
	onEvict      func(*model.Contract)
}

func NewMemoryContractStore(maxContracts int) *MemoryContractStore {
	if maxContracts < 0 {
		maxContracts = 0
	}
	slog.Info("contract store initialized", "driver", "memory", "max_contracts", maxContracts)
	return &MemoryContractStore{
		contracts:    make(map[string]*model.Contract),
		maxContracts: maxContracts,
		now:          time.Now,
	}
}

// OnEvict registers fn to run for every record dropped by the
// max_contracts bound. It runs outside the store lock.
func (s *MemoryContractStore) OnEvict(fn func(*model.Contract)) {
	s.mu.Lock()
	s.onEvict = fn
	s.mu.Unlock()
}

func (s *MemoryContractStore) Create(_ context.Context, c *model.Contract) error {
	s.mu.Lock()
	if _, ok := s.contracts[c.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("contract %s already exists", c.ID)
	}
	s.contracts[c.ID] = cloneContract(c)
	evicted := s.cleanupIfNeeded()
	onEvict := s.onEvict
	s.mu.Unlock()

	if onEvict != nil {
		for _, e := range evicted {
			onEvict(e)
		}
	}
	return nil
}

func (s *MemoryContractStore) Get(_ context.Context, tenantID, id string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok || c.OrganizationID != tenantID {
		return nil, ErrNotFound
	}
	return cloneContract(c), nil
}

func (s *MemoryContractStore) GetByID(_ context.Context, id string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneContract(c), nil
}

func (s *MemoryContractStore) List(_ context.Context, tenantID string) ([]*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*model.Contract{}
	for _, c := range s.contracts {
		if c.OrganizationID == tenantID {
			result = append(result, cloneContract(c))
		}
	}
	sortNewestFirst(result)
	return result, nil
}

// ListProcessing returns processing records last touched before
// updatedBefore, oldest first.
func (s *MemoryContractStore) ListProcessing(_ context.Context, updatedBefore time.Time, limit int) ([]*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Contract
	for _, c := range s.contracts {
		if c.Status == model.StatusProcessing && c.UpdatedAt.Before(updatedBefore) {
			result = append(result, cloneContract(c))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryContractStore) MarkActive(_ context.Context, id string, result *model.AnalysisResult) error {
	return s.transition(id, func(c *model.Contract, now time.Time) {
		c.ApplyResult(result, now)
	})
}

func (s *MemoryContractStore) MarkFailed(_ context.Context, id, diagnostic string) error {
	return s.transition(id, func(c *model.Contract, now time.Time) {
		c.ApplyFailure(diagnostic, now)
	})
}

func (s *MemoryContractStore) transition(id string, apply func(*model.Contract, time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status != model.StatusProcessing {
		return ErrNotProcessing
	}
	apply(c, s.now())
	return nil
}

func (s *MemoryContractStore) Delete(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[id]
	if !ok || c.OrganizationID != tenantID {
		return ErrNotFound
	}
	delete(s.contracts, id)
	return nil
}

func (s *MemoryContractStore) Close() error { return nil }

// Count returns the number of contracts in the store
func (s *MemoryContractStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contracts)
}

// cleanupIfNeeded drops the oldest settled contracts once the store
// exceeds maxContracts and returns them. Processing records are never
// evicted.
// Must be called with lock held
func (s *MemoryContractStore) cleanupIfNeeded() []*model.Contract {
	if s.maxContracts <= 0 || len(s.contracts) <= s.maxContracts {
		return nil
	}

	candidates := make([]*model.Contract, 0, len(s.contracts))
	for _, c := range s.contracts {
		if c.Status != model.StatusProcessing {
			candidates = append(candidates, c)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	excess := len(s.contracts) - s.maxContracts
	var evicted []*model.Contract
	for i := 0; i < excess && i < len(candidates); i++ {
		slog.Info("auto-cleaning old contract",
			"contract_id", candidates[i].ID,
			"created_at", candidates[i].CreatedAt,
		)
		delete(s.contracts, candidates[i].ID)
		evicted = append(evicted, candidates[i])
	}
	return evicted
}

// DeleteEvictedBlobs returns an eviction handler that removes the stored
// document of each evicted record.
func DeleteEvictedBlobs(blobs BlobStore) func(*model.Contract) {
	return func(c *model.Contract) {
		err := blobs.Delete(context.Background(), c.StorageKey)
		if err != nil && !errors.Is(err, ErrBlobNotFound) {
			slog.Error("evicted contract blob delete failed", "contract_id", c.ID, "storage_key", c.StorageKey, "error", err)
		}
	}
}

func sortNewestFirst(contracts []*model.Contract) {
	sort.SliceStable(contracts, func(i, j int) bool {
		if contracts[i].CreatedAt.Equal(contracts[j].CreatedAt) {
			return contracts[i].ID > contracts[j].ID
		}
		return contracts[i].CreatedAt.After(contracts[j].CreatedAt)
	})
}

func cloneContract(c *model.Contract) *model.Contract {
	cp := *c
	if c.AnalysisResults != nil {
		r := *c.AnalysisResults
		r.Parties = append([]model.Party{}, r.Parties...)
		r.KeyDates = append([]model.KeyDate{}, r.KeyDates...)
		r.Risks = append([]model.Risk{}, r.Risks...)
		r.Insights = append([]model.Insight{}, r.Insights...)
		cp.AnalysisResults = &r
	}
	return &cp
}
