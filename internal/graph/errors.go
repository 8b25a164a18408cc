package graph

import "errors"

var (
	// ErrCycle is returned when an edge would make the graph cyclic
	ErrCycle = errors.New("edge would create a cycle")

	// ErrDuplicateNode is returned when two nodes of one graph share an id
	ErrDuplicateNode = errors.New("duplicate node id")

	// ErrEntryExists is returned when a graph already has an entry node
	ErrEntryExists = errors.New("graph already has an entry node")

	// ErrEmptyGraph is returned when starting a graph without nodes
	ErrEmptyGraph = errors.New("graph has no entry node")

	// ErrGraphStarted is returned when wiring a graph that already accepted records
	ErrGraphStarted = errors.New("graph already started")

	// ErrForeignNode is returned when wiring to a node of another graph
	ErrForeignNode = errors.New("node belongs to another graph")

	// ErrGraphNotFound is returned when no graph is registered under an id
	ErrGraphNotFound = errors.New("graph not found")

	// ErrGraphType is returned when a graph exists with another record type
	ErrGraphType = errors.New("graph has unexpected record type")
)
