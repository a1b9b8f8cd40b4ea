package memory

import (
	"context"
	"sync"

	"dogepal/internal/core"
	ports "dogepal/internal/sheets"
)

var _ ports.RecommendationExporter = (*Store)(nil)

// Store keeps exported rows in memory.
type Store struct {
	mu   sync.Mutex
	rows [][]any
	err  error
}

func New() *Store {
	return &Store{}
}

// FailWith makes subsequent exports return err; nil restores normal behaviour.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Export appends one row per recommendation, writing the header first.
func (s *Store) Export(_ context.Context, recs []core.Recommendation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	if len(s.rows) == 0 {
		s.rows = append(s.rows, ports.Header)
	}
	for _, r := range recs {
		s.rows = append(s.rows, ports.Row(r))
	}
	return len(recs), nil
}

// Rows returns a copy of everything exported so far, header included.
func (s *Store) Rows() [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]any(nil), s.rows...)
}
