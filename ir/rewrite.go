package ir

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/pkg/errors"

	"github.com/gomlx/onnx-constprop/elements"
)

// Pattern rewrites ops of the listed types. Rewrite returns false when the
// op doesn't match (no change); any failure beyond no-match panics and is
// caught at the driver boundary, attributed to the op being rewritten.
type Pattern struct {
	Name    string
	OpTypes []string
	Rewrite func(rw *Rewriter, op *Op) bool
}

// Rewriter is handed to patterns to mutate the graph.
type Rewriter struct {
	graph   *Graph
	changed bool
}

// Graph returns the graph being rewritten.
func (rw *Rewriter) Graph() *Graph { return rw.graph }

// CreateConstant inserts a new constant op holding elems and returns its
// value.
func (rw *Rewriter) CreateConstant(name string, elems *elements.Elements) *Value {
	return rw.graph.AddConstant(name, elems)
}

// ReplaceOp substitutes newValues for op's outputs in every use and in the
// graph outputs, then erases op. The replacement values must match the
// outputs one to one.
func (rw *Rewriter) ReplaceOp(op *Op, newValues ...*Value) {
	if len(newValues) != len(op.Outputs) {
		exceptions.Panicf("ir: ReplaceOp of %s needs %d values, got %d", op, len(op.Outputs), len(newValues))
	}
	replacement := make(map[*Value]*Value, len(op.Outputs))
	for ii, out := range op.Outputs {
		if !out.Shape.Equal(newValues[ii].Shape) {
			exceptions.Panicf("ir: ReplaceOp of %s changes result %d type from %s to %s",
				op, ii, out.Shape, newValues[ii].Shape)
		}
		replacement[out] = newValues[ii]
	}
	for _, candidate := range rw.graph.ops {
		for ii, in := range candidate.Inputs {
			if repl, found := replacement[in]; found {
				candidate.Inputs[ii] = repl
			}
		}
	}
	for ii, out := range rw.graph.Outputs {
		if repl, found := replacement[out]; found {
			rw.graph.Outputs[ii] = repl
		}
	}
	rw.graph.removeOp(op)
	rw.changed = true
}

// ApplyPatternsGreedily offers every op to every applicable pattern and
// repeats until a fixed point, so chains of foldable ops collapse in a
// single run. Ops left without uses are erased (the IR is side-effect
// free). Returns the first rewrite failure, attributed to its op.
func ApplyPatternsGreedily(g *Graph, patterns []Pattern) error {
	byType := make(map[string][]*Pattern)
	for ii := range patterns {
		p := &patterns[ii]
		for _, opType := range p.OpTypes {
			byType[opType] = append(byType[opType], p)
		}
	}

	rw := &Rewriter{graph: g}
	for {
		rw.changed = false
		// Sweep a snapshot: patterns may insert and erase ops as we go.
		snapshot := make([]*Op, len(g.ops))
		copy(snapshot, g.ops)
		alive := sets.Make[*Op]()
		for _, op := range g.ops {
			alive.Insert(op)
		}
		for _, op := range snapshot {
			if !alive.Has(op) {
				continue
			}
			for _, p := range byType[op.Type] {
				var matched bool
				err := exceptions.TryCatch[error](func() {
					matched = p.Rewrite(rw, op)
				})
				if err != nil {
					return errors.WithMessagef(err, "while applying %q to %s", p.Name, op)
				}
				if matched {
					delete(alive, op)
					break
				}
			}
		}
		eraseDeadOps(g)
		if !rw.changed {
			return nil
		}
	}
}

// eraseDeadOps removes ops whose outputs are all unused, bottom-up.
func eraseDeadOps(g *Graph) {
	for {
		removed := false
		for ii := len(g.ops) - 1; ii >= 0; ii-- {
			op := g.ops[ii]
			if !g.isLive(op) {
				g.removeOp(op)
				removed = true
			}
		}
		if !removed {
			return
		}
	}
}
