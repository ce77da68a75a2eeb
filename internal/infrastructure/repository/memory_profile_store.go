package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/biometric"
)

// MemoryProfileStore is an in-memory ProfileRepository for development mode
// and tests. Each identity's baseline is guarded by its own lock so appends
// for different identities never contend.
type MemoryProfileStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*memoryProfileEntry
}

type memoryProfileEntry struct {
	mu      sync.Mutex
	profile *biometric.Profile
}

// NewMemoryProfileStore creates an empty in-memory profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		entries: make(map[uuid.UUID]*memoryProfileEntry),
	}
}

// Get returns a deep copy of the identity's baseline, or (nil, nil) when none
// exists. The copy keeps callers from racing on shared sample slices.
func (s *MemoryProfileStore) Get(ctx context.Context, identity uuid.UUID) (*biometric.Profile, error) {
	if identity == uuid.Nil {
		return nil, fmt.Errorf("%w: identity cannot be nil", ErrInvalidInput)
	}

	s.mu.RLock()
	entry, ok := s.entries[identity]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.profile == nil {
		return nil, nil
	}

	copied := *entry.profile
	copied.Samples = append([]biometric.SampleSummary(nil), entry.profile.Samples...)
	return &copied, nil
}

// Append adds one session summary to the identity's baseline, creating it on
// first use. The biometric.MaxSamples bound is enforced by the domain type.
func (s *MemoryProfileStore) Append(ctx context.Context, identity uuid.UUID, sample biometric.SampleSummary) error {
	if identity == uuid.Nil {
		return fmt.Errorf("%w: identity cannot be nil", ErrInvalidInput)
	}

	s.mu.RLock()
	entry, ok := s.entries[identity]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		entry, ok = s.entries[identity]
		if !ok {
			entry = &memoryProfileEntry{}
			s.entries[identity] = entry
		}
		s.mu.Unlock()
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.profile == nil {
		profile, err := biometric.NewProfile(identity)
		if err != nil {
			return err
		}
		entry.profile = profile
	}

	entry.profile.Append(sample)
	return nil
}

// Seed installs a prebuilt baseline, replacing any existing one. Tests use it
// to start from a mature profile without replaying its history.
func (s *MemoryProfileStore) Seed(profile *biometric.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[profile.Identity] = &memoryProfileEntry{profile: profile}
}

// Delete removes the identity's baseline.
func (s *MemoryProfileStore) Delete(ctx context.Context, identity uuid.UUID) error {
	if identity == uuid.Nil {
		return fmt.Errorf("%w: identity cannot be nil", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[identity]; !ok {
		return ErrNotFound
	}
	delete(s.entries, identity)
	return nil
}

// Len reports how many identities have baselines, for tests.
func (s *MemoryProfileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
