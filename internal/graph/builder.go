// File: internal/graph/builder.go

// Package graph records why a scan decided what it decided. Every pipeline
// stage that materially affects the outcome appends one node; the built graph
// is immutable and ships with the scan result.
package graph

import (
	"encoding/json"
	"math"

	"github.com/elara-sec/verdict/api/schemas"
)

// Builder accumulates decision nodes in pipeline order. It is used by a
// single goroutine per scan and must not be touched after Build.
type Builder struct {
	nodes  []schemas.DecisionGraphNode
	deltas []float64
	built  bool
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Append records one stage. delta is the absolute probability movement the
// stage caused; Build normalizes it into a contribution share. Inputs and
// outputs are marshaled immediately so later mutation cannot leak in.
func (b *Builder) Append(component string, input, output any, delta float64) {
	if b.built {
		panic("graph: append after build")
	}
	b.nodes = append(b.nodes, schemas.DecisionGraphNode{
		Component: component,
		Input:     marshal(input),
		Output:    marshal(output),
	})
	b.deltas = append(b.deltas, math.Abs(delta))
}

// Build normalizes contributions over the total probability movement and
// returns the immutable node list. Zero total movement leaves all
// contributions zero.
func (b *Builder) Build() []schemas.DecisionGraphNode {
	b.built = true

	var total float64
	for _, d := range b.deltas {
		total += d
	}
	if total > 0 {
		for i := range b.nodes {
			b.nodes[i].Contribution = b.deltas[i] / total
		}
	}
	return b.nodes
}

func marshal(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
