package risk

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]*RiskAssessment // subject → assessments
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[string][]*RiskAssessment),
	}
}

func (s *MemoryStore) Record(ctx context.Context, assessment *RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assessments[assessment.Subject] = append(s.assessments[assessment.Subject], copyAssessment(assessment))
	return nil
}

func (s *MemoryStore) ListBySubject(ctx context.Context, subject string, limit int) ([]*RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.assessments[subject]
	if len(all) == 0 {
		return nil, nil
	}

	// Return most recent first, up to limit
	start := len(all) - limit
	if start < 0 {
		start = 0
	}

	result := make([]*RiskAssessment, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		result = append(result, copyAssessment(all[i]))
	}
	return result, nil
}

func copyAssessment(a *RiskAssessment) *RiskAssessment {
	c := *a
	c.Threats = append([]Threat(nil), a.Threats...)
	c.Recommendations = append([]string(nil), a.Recommendations...)
	c.SignalsUnavailable = append([]string(nil), a.SignalsUnavailable...)
	return &c
}
