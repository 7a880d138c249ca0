// Package constprop folds ONNX operators whose inputs are all constant
// tensors, replacing them with single constant ops holding the materialized
// result. The rewrite driver applies the patterns greedily to a fixed point,
// so transitively-constant chains collapse in one run of the pass.
package constprop

import (
	"fmt"
	"io"
	"os"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/onnx-constprop/elements"
	"github.com/gomlx/onnx-constprop/ir"
)

// PassName is the stable identifier the pass registers under.
const PassName = "constprop-onnx"

// Pass runs constant propagation over one graph.
type Pass struct {
	report       bool
	reportWriter io.Writer
}

// Option configures a Pass.
type Option func(*Pass)

// WithReport enables the cumulative statistics dump after the pass runs.
func WithReport(report bool) Option {
	return func(p *Pass) { p.report = report }
}

// WithReportWriter redirects the report (default os.Stdout).
func WithReportWriter(w io.Writer) Option {
	return func(p *Pass) { p.reportWriter = w }
}

// New creates a constant-propagation pass.
func New(options ...Option) *Pass {
	p := &Pass{reportWriter: os.Stdout}
	for _, option := range options {
		option(p)
	}
	return p
}

// Run rewrites g to a fixed point. On failure the graph may be partially
// rewritten; every rewrite applied is still semantics-preserving.
func (p *Pass) Run(g *ir.Graph) error {
	before := len(g.Ops())
	if err := ir.ApplyPatternsGreedily(g, Patterns()); err != nil {
		return err
	}
	klog.V(1).Infof("%s: graph %q went from %d to %d ops", PassName, g.Name, before, len(g.Ops()))
	if p.report {
		DumpReport(p.reportWriter)
	}
	return nil
}

// Patterns returns every constant-propagation pattern, for hosts that drive
// their own pattern set.
func Patterns() []ir.Pattern {
	return []ir.Pattern{
		elementwiseBinaryPattern(),
		elementwiseUnaryPattern(),
		wherePattern(),
		reducePattern(),
		transposePattern(),
		reshapePattern(),
		splitPattern(),
		scatterNDPattern(),
		castPattern(),
		slicePattern(),
		concatPattern(),
		expandPattern(),
		gatherPattern(),
	}
}

// Pass registry, keyed by the stable pass identifier.
var passRegistry = make(map[string]func(...Option) *Pass)

// Register adds a pass constructor under name. Registering the same name
// twice is a programming error.
func Register(name string, ctor func(...Option) *Pass) {
	if _, found := passRegistry[name]; found {
		exceptions.Panicf("constprop: pass %q registered twice", name)
	}
	passRegistry[name] = ctor
}

// Lookup returns the pass constructor registered under name.
func Lookup(name string) (func(...Option) *Pass, bool) {
	ctor, found := passRegistry[name]
	return ctor, found
}

func init() {
	Register(PassName, New)
}

// allDenseConstants reports whether every value is a dense constant; splats
// qualify.
func allDenseConstants(values []*ir.Value) bool {
	for _, v := range values {
		if !ir.IsDenseConstant(v) {
			return false
		}
	}
	return true
}

// replaceWithConstants swaps op for one new constant per result.
func replaceWithConstants(rw *ir.Rewriter, op *ir.Op, results ...*elements.Elements) {
	newValues := make([]*ir.Value, len(results))
	for ii, result := range results {
		name := op.Name + ".const"
		if len(results) > 1 {
			name = fmt.Sprintf("%s.const.%d", op.Name, ii)
		}
		newValues[ii] = rw.CreateConstant(name, result)
	}
	rw.ReplaceOp(op, newValues...)
}

// adjustAxis normalizes a possibly negative axis against rank, the way ONNX
// attributes count from the end.
func adjustAxis(axis, rank int) int {
	if axis < -rank || axis >= rank {
		exceptions.Panicf("constprop: axis %d out of range for rank %d", axis, rank)
	}
	if axis < 0 {
		axis += rank
	}
	return axis
}
