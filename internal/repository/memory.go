package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dan9191/note-lending/internal/models"
)

// Memory is an in-memory Store
type Memory struct {
	mu       sync.RWMutex
	records  map[string]*models.RepaymentRecord
	active   map[string]struct{}
	payments map[string][]*models.Payment
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]*models.RepaymentRecord),
		active:   make(map[string]struct{}),
		payments: make(map[string][]*models.Payment),
	}
}

// CreateRecord inserts a new record. Returns ErrDuplicateKey if it exists.
func (s *Memory) CreateRecord(_ context.Context, r *models.RepaymentRecord) error {
	if r == nil || r.NoteID == "" {
		return fmt.Errorf("%w: record without note id", models.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[r.NoteID]; exists {
		return ErrDuplicateKey
	}
	s.put(r)
	return nil
}

// GetRecord returns a copy of the record for noteID
func (s *Memory) GetRecord(_ context.Context, noteID string) (*models.RepaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[noteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, noteID)
	}
	return r.Clone(), nil
}

// SaveRecord overwrites an existing record
func (s *Memory) SaveRecord(_ context.Context, r *models.RepaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.NoteID]; !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, r.NoteID)
	}
	s.put(r)
	return nil
}

// CommitSettlement saves r and appends p under one lock
func (s *Memory) CommitSettlement(_ context.Context, r *models.RepaymentRecord, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.NoteID]; !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, r.NoteID)
	}
	s.put(r)
	pc := *p
	s.payments[r.NoteID] = append(s.payments[r.NoteID], &pc)
	return nil
}

// ListActive returns active note ids in lexical order
func (s *Memory) ListActive(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListDue returns active notes due at or before asOf
func (s *Memory) ListDue(_ context.Context, asOf time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*models.RepaymentRecord
	for id := range s.active {
		if r := s.records[id]; !r.NextDueAt.After(asOf) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextDueAt.Equal(due[j].NextDueAt) {
			return due[i].NoteID < due[j].NoteID
		}
		return due[i].NextDueAt.Before(due[j].NextDueAt)
	})

	ids := make([]string, len(due))
	for i, r := range due {
		ids[i] = r.NoteID
	}
	return ids, nil
}

// ListPayments returns the settled payments of a note in settlement order
func (s *Memory) ListPayments(_ context.Context, noteID string) ([]*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.records[noteID]; !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, noteID)
	}
	out := make([]*models.Payment, len(s.payments[noteID]))
	for i, p := range s.payments[noteID] {
		pc := *p
		out[i] = &pc
	}
	return out, nil
}

func (s *Memory) put(r *models.RepaymentRecord) {
	s.records[r.NoteID] = r.Clone()
	if r.Active {
		s.active[r.NoteID] = struct{}{}
	} else {
		delete(s.active, r.NoteID)
	}
}

var _ Store = (*Memory)(nil)
