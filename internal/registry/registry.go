// Package registry owns note identity, the fixed obligor and the current
// rights-holder, and announces rights-holder changes that follow auction or
// escrow settlement. Memory serves tests and single-process runs; Postgres
// keeps notes across restarts.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dan9191/note-lending/internal/models"
)

// OwnershipListener is called after a rights-holder change is committed
type OwnershipListener func(ctx context.Context, noteID, newHolder string)

// Note is a registry entry
type Note struct {
	ID           string    `json:"id"`
	Obligor      string    `json:"obligor"`
	RightsHolder string    `json:"rights_holder"`
	MintedAt     time.Time `json:"minted_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// subscribers fans rights-holder changes out to listeners
type subscribers struct {
	mu   sync.Mutex
	list []OwnershipListener
}

func (s *subscribers) add(l OwnershipListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = append(s.list, l)
}

func (s *subscribers) notify(ctx context.Context, noteID, newHolder string) {
	s.mu.Lock()
	listeners := append([]OwnershipListener(nil), s.list...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(ctx, noteID, newHolder)
	}
}

func checkMint(noteID, obligor, rightsHolder string) error {
	if noteID == "" || obligor == "" || rightsHolder == "" {
		return fmt.Errorf("%w: note id, obligor and rights-holder are required", models.ErrValidation)
	}
	return nil
}

// Memory is an in-memory NoteRegistry
type Memory struct {
	mu    sync.RWMutex
	notes map[string]*Note
	subs  subscribers
	clock func() time.Time
}

// NewMemory creates an empty registry
func NewMemory() *Memory {
	return &Memory{
		notes: make(map[string]*Note),
		clock: time.Now,
	}
}

// Mint records a new note
func (r *Memory) Mint(_ context.Context, noteID, obligor, rightsHolder string) (*Note, error) {
	if err := checkMint(noteID, obligor, rightsHolder); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.notes[noteID]; exists {
		return nil, fmt.Errorf("%w: note %s already minted", models.ErrValidation, noteID)
	}
	now := r.clock()
	n := &Note{ID: noteID, Obligor: obligor, RightsHolder: rightsHolder, MintedAt: now, UpdatedAt: now}
	r.notes[noteID] = n

	out := *n
	return &out, nil
}

// TransferRights assigns a new rights-holder and notifies listeners
func (r *Memory) TransferRights(ctx context.Context, noteID, newHolder string) error {
	if newHolder == "" {
		return fmt.Errorf("%w: rights-holder is required", models.ErrValidation)
	}

	r.mu.Lock()
	n, ok := r.notes[noteID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrNotFound, noteID)
	}
	n.RightsHolder = newHolder
	n.UpdatedAt = r.clock()
	r.mu.Unlock()

	r.subs.notify(ctx, noteID, newHolder)
	return nil
}

// Subscribe registers a listener for rights-holder changes
func (r *Memory) Subscribe(l OwnershipListener) {
	r.subs.add(l)
}

// GetNote returns a copy of a registry entry
func (r *Memory) GetNote(_ context.Context, noteID string) (*Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notes[noteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, noteID)
	}
	out := *n
	return &out, nil
}

// GetObligor returns the obligor address of a note
func (r *Memory) GetObligor(ctx context.Context, noteID string) (string, error) {
	n, err := r.GetNote(ctx, noteID)
	if err != nil {
		return "", err
	}
	return n.Obligor, nil
}

// GetRightsHolder returns the current rights-holder address of a note
func (r *Memory) GetRightsHolder(ctx context.Context, noteID string) (string, error) {
	n, err := r.GetNote(ctx, noteID)
	if err != nil {
		return "", err
	}
	return n.RightsHolder, nil
}
