package labreport

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// memoryRepo keeps reports in process memory. It backs the server when no
// DATABASE_URL is configured and the CLI.
type memoryRepo struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]*Report
}

func NewMemoryRepo() ReportRepository {
	return &memoryRepo{reports: make(map[uuid.UUID]*Report)}
}

func cloneReport(r *Report) *Report {
	out := *r
	out.Result = *r.Result.Clone()
	return &out
}

func (m *memoryRepo) Create(ctx context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = cloneReport(r)
	return nil
}

func (m *memoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	return cloneReport(r), nil
}

func (m *memoryRepo) List(ctx context.Context, f ReportFilter, limit, offset int) ([]*Report, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Report, 0, len(m.reports))
	for _, r := range m.reports {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return []*Report{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*Report, 0, end-offset)
	for _, r := range all[offset:end] {
		out = append(out, cloneReport(r))
	}
	return out, total, nil
}

func (m *memoryRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[id]; !ok {
		return ErrReportNotFound
	}
	delete(m.reports, id)
	return nil
}
