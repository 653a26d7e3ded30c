// Package memory is an arena-style in-process store: flat maps keyed by id
// with explicit parent/children indexes. It backs the server when no
// DATABASE_URL is configured and serves as the repository layer in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"branchtale/internal/domain/models"
	"branchtale/internal/domain/repositories"
)

// Store holds every record. All repositories built from the same Store share state.
type Store struct {
	mu sync.RWMutex

	stories  map[int64]*models.Story
	nodes    map[int64]*models.StoryNode
	children map[int64][]int64 // parent id -> child ids in creation order
	roots    map[int64]int64   // story id -> root node id
	jobs     map[int64]*models.Job

	nextStoryID int64
	nextNodeID  int64
	nextJobID   int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		stories:  make(map[int64]*models.Story),
		nodes:    make(map[int64]*models.StoryNode),
		children: make(map[int64][]int64),
		roots:    make(map[int64]int64),
		jobs:     make(map[int64]*models.Job),
	}
}

// undoLog collects compensating actions for the writes made inside ExecTx.
type undoLog struct {
	ops []func()
}

type undoKey struct{}

func undoFrom(ctx context.Context) *undoLog {
	log, _ := ctx.Value(undoKey{}).(*undoLog)
	return log
}

// record registers undo for the current transaction. Must be called with s.mu held.
func (s *Store) record(ctx context.Context, undo func()) {
	if log := undoFrom(ctx); log != nil {
		log.ops = append(log.ops, undo)
	}
}

// TransactionManager gives the memory store all-or-nothing ExecTx semantics
// by replaying recorded undo actions when fn fails.
type TransactionManager struct {
	store *Store
}

// NewTransactionManager creates a transaction manager for store
func NewTransactionManager(store *Store) repositories.TransactionManager {
	return &TransactionManager{store: store}
}

// ExecTx runs fn; on error every write fn made through this store is reverted.
func (tm *TransactionManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	if undoFrom(ctx) != nil {
		return fn(ctx)
	}

	log := &undoLog{}
	if err := fn(context.WithValue(ctx, undoKey{}, log)); err != nil {
		tm.store.mu.Lock()
		for i := len(log.ops) - 1; i >= 0; i-- {
			log.ops[i]()
		}
		tm.store.mu.Unlock()
		return err
	}

	return nil
}

func cloneStory(s *models.Story) *models.Story {
	out := *s
	out.Context = s.Context.Clone()
	if s.StoryBranches != nil {
		out.StoryBranches = make([]models.StoryBranch, len(s.StoryBranches))
		for i, b := range s.StoryBranches {
			b.Nodes = append([]models.BranchNode{}, b.Nodes...)
			out.StoryBranches[i] = b
		}
	}
	return &out
}

func cloneNode(n *models.StoryNode) *models.StoryNode {
	out := *n
	out.Choices = append([]models.Choice{}, n.Choices...)
	out.Metadata = cloneMap(n.Metadata)
	return &out
}

func cloneJob(j *models.Job) *models.Job {
	out := *j
	out.Result = cloneMap(j.Result)
	return &out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// paginate slices items for offset/limit; limit <= 0 returns everything after offset
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// sortNewestFirst orders by creation time, then id, descending
func sortNewestFirst[T any](items []T, key func(T) (int64, int64)) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if ti != tj {
			return ti > tj
		}
		return idi > idj
	})
}
