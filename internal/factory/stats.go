package factory

import (
	"sync"
	"time"

	"github.com/JakeFAU/servicegraph/internal/service"
)

// KindStats breaks creation counters out by construction kind.
type KindStats struct {
	Attempted int64         `json:"attempted"`
	Succeeded int64         `json:"succeeded"`
	Failed    int64         `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Stats is a snapshot of the factory's running creation statistics.
type Stats struct {
	Attempted int64                `json:"attempted"`
	Succeeded int64                `json:"succeeded"`
	Failed    int64                `json:"failed"`
	Elapsed   time.Duration        `json:"elapsed"`
	ByKind    map[string]KindStats `json:"by_kind"`
}

type creationStats struct {
	mu     sync.Mutex
	total  KindStats
	byKind map[service.Kind]KindStats
}

func newCreationStats() *creationStats {
	return &creationStats{byKind: make(map[service.Kind]KindStats)}
}

func (s *creationStats) attempt(kind service.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total.Attempted++
	ks := s.byKind[kind]
	ks.Attempted++
	s.byKind[kind] = ks
}

func (s *creationStats) success(kind service.Kind, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total.Succeeded++
	s.total.Elapsed += elapsed
	ks := s.byKind[kind]
	ks.Succeeded++
	ks.Elapsed += elapsed
	s.byKind[kind] = ks
}

func (s *creationStats) failure(kind service.Kind, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total.Failed++
	s.total.Elapsed += elapsed
	ks := s.byKind[kind]
	ks.Failed++
	ks.Elapsed += elapsed
	s.byKind[kind] = ks
}

func (s *creationStats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{
		Attempted: s.total.Attempted,
		Succeeded: s.total.Succeeded,
		Failed:    s.total.Failed,
		Elapsed:   s.total.Elapsed,
		ByKind:    make(map[string]KindStats, len(s.byKind)),
	}
	for kind, ks := range s.byKind {
		out.ByKind[kind.String()] = ks
	}
	return out
}

func (s *creationStats) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = KindStats{}
	s.byKind = make(map[service.Kind]KindStats)
}
