package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/soham2yu/Bookscan-AI-Frontend/config"
	"github.com/soham2yu/Bookscan-AI-Frontend/model"
)

// ConversionStore is an in-memory store for conversions.
// Getters return copies; all mutation goes through the store.
type ConversionStore struct {
	conversions    map[string]*model.Conversion
	mu             sync.RWMutex
	maxConversions int // 0 = unlimited
	onEvict        func(model.Conversion)
}

func NewConversionStore(cfg *config.StoreConfig) *ConversionStore {
	maxConversions := cfg.MaxConversions
	if maxConversions < 0 {
		maxConversions = 0
	}
	slog.Info("conversion store initialized", "max_conversions", maxConversions)
	return &ConversionStore{
		conversions:    make(map[string]*model.Conversion),
		maxConversions: maxConversions,
	}
}

// OnEvict registers a hook run (under the store lock) for every conversion
// removed by cleanup. The hook must not call back into the store.
func (s *ConversionStore) OnEvict(fn func(model.Conversion)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Create saves conversion unless username already has one in flight.
func (s *ConversionStore) Create(conversion *model.Conversion) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conversions {
		if c.Username == conversion.Username && c.Active() {
			return false
		}
	}

	s.insertLocked(conversion)
	return true
}

func (s *ConversionStore) insertLocked(conversion *model.Conversion) {
	c := *conversion
	c.UpdatedAt = time.Now()
	s.conversions[c.ID] = &c
	s.cleanupIfNeeded()
}

func (s *ConversionStore) Get(id string) *model.Conversion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversions[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// GetByUser returns the user's conversions, newest first.
func (s *ConversionStore) GetByUser(username string) []model.Conversion {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Conversion
	for _, c := range s.conversions {
		if c.Username == username {
			result = append(result, *c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (s *ConversionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversions, id)
}

// UpdatePhase records a phase transition of an in-flight conversion.
// Finished conversions are left untouched so a late callback cannot
// overwrite the final state.
func (s *ConversionStore) UpdatePhase(id string, phase model.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversions[id]; ok && c.Active() {
		c.Phase = phase
		c.Status = model.StatusProcessing
		c.UpdatedAt = time.Now()
	}
}

// UpdateStatus finishes a conversion with a non-success status. Failed and
// canceled conversions go back to the Ready phase.
func (s *ConversionStore) UpdateStatus(id, status string, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversions[id]; ok {
		c.Status = status
		c.ErrorMsg = errMsg
		if status == model.StatusFailed || status == model.StatusCanceled {
			c.Phase = model.PhaseReady
		}
		c.UpdatedAt = time.Now()
	}
}

// Complete marks a conversion done with its stored result. It reports false
// when the conversion no longer exists, leaving the result unowned.
func (s *ConversionStore) Complete(id, objectName string, size int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversions[id]
	if !ok {
		return false
	}
	c.Status = model.StatusCompleted
	c.Phase = model.PhaseComplete
	c.ObjectName = objectName
	c.ResultSize = size
	c.ErrorMsg = ""
	c.UpdatedAt = time.Now()
	return true
}

// cleanupIfNeeded removes the oldest finished conversions once the store
// exceeds maxConversions. Must be called with lock held.
func (s *ConversionStore) cleanupIfNeeded() {
	if s.maxConversions <= 0 {
		return
	}

	if len(s.conversions) <= s.maxConversions {
		return
	}

	finished := make([]*model.Conversion, 0, len(s.conversions))
	for _, c := range s.conversions {
		if !c.Active() {
			finished = append(finished, c)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CreatedAt.Before(finished[j].CreatedAt)
	})

	removeCount := len(s.conversions) - s.maxConversions
	for i := 0; i < removeCount && i < len(finished); i++ {
		slog.Info("auto-cleaning old conversion",
			"conversion_id", finished[i].ID,
			"created_at", finished[i].CreatedAt,
		)
		delete(s.conversions, finished[i].ID)
		if s.onEvict != nil {
			s.onEvict(*finished[i])
		}
	}
}

// Count returns the number of conversions in the store
func (s *ConversionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversions)
}
