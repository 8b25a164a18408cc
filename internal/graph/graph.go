package graph

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/metrics"
)

// Next hands a record to every downstream node of the calling node
type Next[T any] func(T)

// NodeProcessor is one stage of a worker graph. Process may call next
// zero or one time; not calling it ends the record's traversal.
type NodeProcessor[T any] interface {
	ID() int
	Process(input T, next Next[T])
}

// Node is a processor placed in a graph together with its downstream edges
type Node[T any] struct {
	graph     *Graph[T]
	processor NodeProcessor[T]
	next      []*Node[T]
	forward   Next[T]
}

// Graph is a static acyclic wiring of node processors. It is built once
// and then traversed synchronously by Start, one goroutine per record.
type Graph[T any] struct {
	id     int
	logger *zap.Logger

	mu      sync.Mutex
	started atomic.Bool
	freeze  sync.Once
	entry   *Node[T]
	nodes   map[int]*Node[T]
}

// New creates an empty graph
func New[T any](id int, logger *zap.Logger) *Graph[T] {
	return &Graph[T]{
		id:     id,
		logger: logger.Named("graph").With(zap.Int("graph_id", id)),
		nodes:  make(map[int]*Node[T]),
	}
}

// ID returns the graph id
func (g *Graph[T]) ID() int {
	return g.id
}

// AddNode sets the entry node of the graph
func (g *Graph[T]) AddNode(p NodeProcessor[T]) (*Node[T], error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.entry != nil {
		return nil, fmt.Errorf("%w: graph %d", ErrEntryExists, g.id)
	}
	node, err := g.newNode(p)
	if err != nil {
		return nil, err
	}
	g.entry = node
	return node, nil
}

// AddNext creates a node for p downstream of n
func (n *Node[T]) AddNext(p NodeProcessor[T]) (*Node[T], error) {
	g := n.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	node, err := g.newNode(p)
	if err != nil {
		return nil, err
	}
	n.next = append(n.next, node)
	return node, nil
}

// Wire adds an edge from n to an existing node of the same graph, letting
// several producers fan into one consumer. Edges that would close a cycle
// are rejected.
func (n *Node[T]) Wire(target *Node[T]) error {
	g := n.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started.Load() {
		return fmt.Errorf("%w: graph %d", ErrGraphStarted, g.id)
	}
	if target.graph != g {
		return fmt.Errorf("%w: node %d", ErrForeignNode, target.ID())
	}
	if target.reaches(n) {
		return fmt.Errorf("%w: %d -> %d", ErrCycle, n.ID(), target.ID())
	}
	n.next = append(n.next, target)
	return nil
}

// ID returns the processor id
func (n *Node[T]) ID() int {
	return n.processor.ID()
}

// Start pushes input into the entry node. It returns once the record has
// finished its traversal.
func (g *Graph[T]) Start(input T) error {
	// wiring stops here; traversal below reads edges without the lock
	g.freeze.Do(func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.started.Store(true)
	})

	if g.entry == nil {
		return fmt.Errorf("%w: graph %d", ErrEmptyGraph, g.id)
	}
	g.entry.execute(input)
	return nil
}

// NodeIDs returns the ids of every node in the graph
func (g *Graph[T]) NodeIDs() []int {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]int, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	return ids
}

func (g *Graph[T]) newNode(p NodeProcessor[T]) (*Node[T], error) {
	if g.started.Load() {
		return nil, fmt.Errorf("%w: graph %d", ErrGraphStarted, g.id)
	}
	if _, exists := g.nodes[p.ID()]; exists {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateNode, p.ID())
	}

	node := &Node[T]{graph: g, processor: p}
	node.forward = node.dispatch
	g.nodes[p.ID()] = node

	g.logger.Debug("Added node", zap.Int("node_id", p.ID()))
	return node, nil
}

func (n *Node[T]) execute(input T) {
	metrics.ObserveNode(n.graph.id, n.processor.ID())
	n.processor.Process(input, n.forward)
}

func (n *Node[T]) dispatch(output T) {
	for _, next := range n.next {
		next.execute(output)
	}
}

// reaches reports whether target is n or downstream of n
func (n *Node[T]) reaches(target *Node[T]) bool {
	visited := make(map[*Node[T]]bool)

	var visit func(*Node[T]) bool
	visit = func(current *Node[T]) bool {
		if current == target {
			return true
		}
		if visited[current] {
			return false
		}
		visited[current] = true
		for _, next := range current.next {
			if visit(next) {
				return true
			}
		}
		return false
	}

	return visit(n)
}
