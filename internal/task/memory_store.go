package task

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/rebalancer"
)

// DefaultListLimit 是 List 未指定数量时返回的记录数。
const DefaultListLimit = 20

// MemoryStore 以内存方式保存运行状态，最多保留 capacity 条记录。
type MemoryStore struct {
	mu       sync.RWMutex
	runs     map[string]*Run
	capacity int
	now      func() time.Time
}

// NewMemoryStore 创建 MemoryStore。capacity 小于等于 0 时不限制。
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run), capacity: capacity, now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, run *Run) error {
	if run == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "run 不能为空")
	}
	if run.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "运行 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return ErrRunConflict
	}
	now := m.now().Unix()
	if run.CreatedAt == 0 {
		run.CreatedAt = now
	}
	if run.Status == "" {
		run.Status = StatusPending
	}
	run.UpdatedAt = now
	m.runs[run.ID] = cloneRun(run)
	m.evict()
	return nil
}

// evict 删除最旧的已结束记录，直到数量不超过容量。
func (m *MemoryStore) evict() {
	if m.capacity <= 0 || len(m.runs) <= m.capacity {
		return
	}
	finished := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		if IsTerminal(run.Status) {
			finished = append(finished, run)
		}
	}
	sortNewestFirst(finished)
	for i := len(finished) - 1; i >= 0 && len(m.runs) > m.capacity; i-- {
		delete(m.runs, finished[i].ID)
	}
}

// Get 返回运行记录。
func (m *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(run), nil
}

// Claim 将等待中的运行标记为执行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	switch run.Status {
	case StatusSucceeded, StatusFailed:
		return cloneRun(run), ErrRunCompleted
	case StatusRunning:
		return cloneRun(run), ErrRunConflict
	}
	run.Status = StatusRunning
	run.UpdatedAt = m.now().Unix()
	return cloneRun(run), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result *rebalancer.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = StatusSucceeded
	run.Result = result
	run.LastError = ""
	run.ErrorCode = ""
	run.UpdatedAt = m.now().Unix()
	return nil
}

// MarkFailed 标记运行失败。result 可以为空，例如运行尚未开始就被拒绝。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, result *rebalancer.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = StatusFailed
	run.Result = result
	run.LastError = lastError
	run.ErrorCode = string(code)
	run.UpdatedAt = m.now().Unix()
	return nil
}

// List 返回最近更新的运行。
func (m *MemoryStore) List(_ context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		results = append(results, cloneRun(run))
	}
	sortNewestFirst(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func sortNewestFirst(runs []*Run) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].UpdatedAt == runs[j].UpdatedAt {
			if runs[i].CreatedAt == runs[j].CreatedAt {
				return runs[i].ID < runs[j].ID
			}
			return runs[i].CreatedAt > runs[j].CreatedAt
		}
		return runs[i].UpdatedAt > runs[j].UpdatedAt
	})
}

var _ Store = (*MemoryStore)(nil)
