package community

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	reports       map[string]*Report
	votes         map[string]*Vote // keyed reportID + "\x00" + voter
	stats         map[string]*ReporterStats
	appeals       map[string]*Appeal
	verifications map[string]*AssetVerification
	contracts     map[string]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports:       make(map[string]*Report),
		votes:         make(map[string]*Vote),
		stats:         make(map[string]*ReporterStats),
		appeals:       make(map[string]*Appeal),
		verifications: make(map[string]*AssetVerification),
		contracts:     make(map[string]bool),
	}
}

func copyReport(r *Report) *Report {
	cp := *r
	if r.ReviewedAt != nil {
		t := *r.ReviewedAt
		cp.ReviewedAt = &t
	}
	return &cp
}

func copyStats(s *ReporterStats) *ReporterStats {
	cp := *s
	cp.RecentSubmissions = append([]time.Time(nil), s.RecentSubmissions...)
	return &cp
}

func (m *MemoryStore) CreateReport(ctx context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = copyReport(r)
	return nil
}

func (m *MemoryStore) GetReport(ctx context.Context, id string) (*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyReport(r), nil
}

func (m *MemoryStore) UpdateReport(ctx context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.ID]; !ok {
		return ErrNotFound
	}
	m.reports[r.ID] = copyReport(r)
	return nil
}

func (m *MemoryStore) ListReportsBySubject(ctx context.Context, subject string, limit int) ([]*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Report
	for _, r := range m.reports {
		if r.Subject == subject {
			out = append(out, copyReport(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListRecentByReporter(ctx context.Context, reporter string, since time.Time) ([]*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Report
	for _, r := range m.reports {
		if r.Reporter == reporter && !r.CreatedAt.Before(since) {
			out = append(out, copyReport(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CountReportsBySubject(ctx context.Context, subject string) (ReportCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var counts ReportCounts
	for _, r := range m.reports {
		if r.Subject != subject {
			continue
		}
		switch r.Status {
		case StatusVerified:
			counts.Verified++
		case StatusPending:
			counts.Pending++
		}
	}
	return counts, nil
}

func (m *MemoryStore) CreateVote(ctx context.Context, v *Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := v.ReportID + "\x00" + v.Voter
	if _, ok := m.votes[key]; ok {
		return ErrAlreadyVoted
	}
	cp := *v
	m.votes[key] = &cp
	return nil
}

func (m *MemoryStore) GetReporterStats(ctx context.Context, reporter string) (*ReporterStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stats[reporter]
	if !ok {
		return nil, ErrNotFound
	}
	return copyStats(s), nil
}

func (m *MemoryStore) PutReporterStats(ctx context.Context, stats *ReporterStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[stats.Reporter] = copyStats(stats)
	return nil
}

func (m *MemoryStore) CreateAppeal(ctx context.Context, a *Appeal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.appeals[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAppeal(ctx context.Context, id string) (*Appeal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appeals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpdateAppeal(ctx context.Context, a *Appeal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appeals[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	m.appeals[a.ID] = &cp
	return nil
}

func (m *MemoryStore) PutAssetVerification(ctx context.Context, v *AssetVerification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.verifications[v.Code+":"+v.Issuer] = &cp
	return nil
}

func (m *MemoryStore) GetAssetVerification(ctx context.Context, code, issuer string) (*AssetVerification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.verifications[code+":"+issuer]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) PutContractVerification(ctx context.Context, contractID string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[contractID] = verified
	return nil
}

func (m *MemoryStore) IsContractVerified(ctx context.Context, contractID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contracts[contractID], nil
}
