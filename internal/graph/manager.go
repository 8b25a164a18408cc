package graph

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Manager keeps the graphs of the process by id. Graphs carry different
// record types, so typed access goes through Create and Find.
type Manager struct {
	logger *zap.Logger
	mu     sync.RWMutex
	graphs map[int]any
}

// NewManager creates an empty graph manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger: logger,
		graphs: make(map[int]any),
	}
}

// Create returns the graph registered under id, creating it when absent
func Create[T any](m *Manager, id int) (*Graph[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.graphs[id]; ok {
		g, ok := existing.(*Graph[T])
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrGraphType, id)
		}
		return g, nil
	}

	g := New[T](id, m.logger)
	m.graphs[id] = g
	return g, nil
}

// Find returns the graph registered under id
func Find[T any](m *Manager, id int) (*Graph[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	existing, ok := m.graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrGraphNotFound, id)
	}
	g, ok := existing.(*Graph[T])
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrGraphType, id)
	}
	return g, nil
}
