package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geoguansin/ncflow/internal/domain"
	"github.com/geoguansin/ncflow/internal/orchestrator"
)

// MemoryStore is an in-memory CheckpointStore suitable for testing and
// development.
type MemoryStore struct {
	mu sync.RWMutex

	metadata    map[string]orchestrator.RunInfo
	executions  []orchestrator.ExecutionRecord
	logs        map[int64][]string
	checkpoints []orchestrator.CheckpointRecord
	nextExecID  int64
	nextCPID    int64
}

var _ orchestrator.CheckpointStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metadata: make(map[string]orchestrator.RunInfo),
		logs:     make(map[int64][]string),
	}
}

// SaveRunMetadata implements CheckpointStore.
func (s *MemoryStore) SaveRunMetadata(ctx context.Context, runID string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, exists := s.metadata[runID]
	if !exists {
		info = orchestrator.RunInfo{RunID: runID, CreatedAt: time.Now()}
	}
	info.Metadata = metadata
	s.metadata[runID] = info
	return nil
}

// GetRunMetadata implements CheckpointStore.
func (s *MemoryStore) GetRunMetadata(ctx context.Context, runID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if info, ok := s.metadata[runID]; ok {
		return info.Metadata, nil
	}
	return nil, nil
}

// ListRuns implements CheckpointStore.
func (s *MemoryStore) ListRuns(ctx context.Context) ([]orchestrator.RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orchestrator.RunInfo, 0, len(s.metadata))
	for _, info := range s.metadata {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteRun implements CheckpointStore.
func (s *MemoryStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metadata, runID)

	kept := s.executions[:0]
	for _, e := range s.executions {
		if e.RunID == runID {
			delete(s.logs, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	s.executions = kept

	keptCP := s.checkpoints[:0]
	for _, cp := range s.checkpoints {
		if cp.RunID != runID {
			keptCP = append(keptCP, cp)
		}
	}
	s.checkpoints = keptCP
	return nil
}

// InsertExecution implements CheckpointStore.
func (s *MemoryStore) InsertExecution(ctx context.Context, rec orchestrator.ExecutionRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextExecID++
	rec.ID = s.nextExecID
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	s.executions = append(s.executions, rec)
	return rec.ID, nil
}

// UpdateExecutionStatus implements CheckpointStore.
func (s *MemoryStore) UpdateExecutionStatus(ctx context.Context, executionID int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.executions {
		if s.executions[i].ID == executionID {
			s.executions[i].Status = status
			return nil
		}
	}
	return domain.NewDomainError(domain.ErrCodeNotFound, "execution not found", nil)
}

// InsertLog implements CheckpointStore.
func (s *MemoryStore) InsertLog(ctx context.Context, executionID int64, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[executionID] = append(s.logs[executionID], content)
	return nil
}

// Logs returns the captured content of one execution, for inspection in
// tests.
func (s *MemoryStore) Logs(executionID int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.logs[executionID]...)
}

// ListExecutions implements CheckpointStore.
func (s *MemoryStore) ListExecutions(ctx context.Context, runID string) ([]orchestrator.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []orchestrator.ExecutionRecord
	for _, e := range s.executions {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

// SaveCheckpoint implements CheckpointStore with the same upsert
// semantics as the SQL schema's UNIQUE(run_id, cycle, inference_count).
func (s *MemoryStore) SaveCheckpoint(ctx context.Context, runID string, cycle, inferenceCount int, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.checkpoints {
		cp := &s.checkpoints[i]
		if cp.RunID == runID && cp.Cycle == cycle && cp.InferenceCount == inferenceCount {
			cp.Blob = append([]byte(nil), blob...)
			cp.Timestamp = time.Now()
			// Re-key as latest so LoadCheckpoint's id ordering matches SQL.
			s.nextCPID++
			cp.ID = s.nextCPID
			return nil
		}
	}
	s.nextCPID++
	s.checkpoints = append(s.checkpoints, orchestrator.CheckpointRecord{
		ID:             s.nextCPID,
		RunID:          runID,
		Cycle:          cycle,
		InferenceCount: inferenceCount,
		Blob:           append([]byte(nil), blob...),
		Timestamp:      time.Now(),
	})
	return nil
}

// ListCheckpoints implements CheckpointStore.
func (s *MemoryStore) ListCheckpoints(ctx context.Context, runID string) ([]orchestrator.CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []orchestrator.CheckpointRecord
	for _, cp := range s.checkpoints {
		if cp.RunID == runID {
			rec := cp
			rec.Blob = nil
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadCheckpoint implements CheckpointStore.
func (s *MemoryStore) LoadCheckpoint(ctx context.Context, runID string, cycle, inferenceCount int) (*orchestrator.CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *orchestrator.CheckpointRecord
	for i := range s.checkpoints {
		cp := s.checkpoints[i]
		if cp.RunID != runID {
			continue
		}
		if cycle >= 0 && cp.Cycle != cycle {
			continue
		}
		if cycle >= 0 && inferenceCount >= 0 && cp.InferenceCount != inferenceCount {
			continue
		}
		if best == nil || cp.ID > best.ID {
			copied := cp
			best = &copied
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Blob = append([]byte(nil), best.Blob...)
	return best, nil
}
