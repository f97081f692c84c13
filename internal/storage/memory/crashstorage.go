// Package memory implements an in-memory crash storage for tests: every
// object write is kept in a map keyed by path, and failures can be scripted.
package memory

import (
	"context"
	"sync"

	"github.com/stackwatch/crash-collector/internal/collector"
	storagelayout "github.com/stackwatch/crash-collector/internal/storage"
)

// CrashStorage keeps saved objects in memory.
type CrashStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	saves   int

	// FailNextSaves makes the next n Save calls fail with the scripted error.
	failN   int
	failErr error

	verifyErr error
}

// New creates an empty in-memory crash storage.
func New() *CrashStorage {
	return &CrashStorage{objects: map[string][]byte{}}
}

// FailNextSaves scripts the next n Save calls to return err.
func (s *CrashStorage) FailNextSaves(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failN = n
	s.failErr = err
}

// FailVerify scripts Verify to return err.
func (s *CrashStorage) FailVerify(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyErr = err
}

// Save stores every object for the crash report.
func (s *CrashStorage) Save(_ context.Context, report *collector.CrashReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++
	if s.failN > 0 {
		s.failN--
		return s.failErr
	}

	objects, err := storagelayout.Objects(report)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		body := make([]byte, len(obj.Body))
		copy(body, obj.Body)
		s.objects[obj.Path] = body
	}
	return nil
}

// Verify returns the scripted verification result.
func (s *CrashStorage) Verify(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyErr
}

// Object returns the stored body for path.
func (s *CrashStorage) Object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.objects[path]
	return body, ok
}

// Paths returns every stored object path.
func (s *CrashStorage) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for path := range s.objects {
		out = append(out, path)
	}
	return out
}

// SaveCalls reports how many times Save was invoked.
func (s *CrashStorage) SaveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
