package constprop

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/gomlx/onnx-constprop/elements"
)

// Per-operator fold statistics, accumulated process-wide across every run of
// the pass. The rewrite driver is single-threaded, but the map is guarded so
// a host that parallelizes pass execution doesn't corrupt it.
type opCounters struct {
	invocations   int
	inputElements int
}

var (
	countersMu sync.Mutex
	counters   = make(map[string]*opCounters)
)

// countFold records one successful fold of the named operator family along
// with the total element count of its constant operands.
func countFold(name string, operands ...*elements.Elements) {
	countersMu.Lock()
	defer countersMu.Unlock()
	c := counters[name]
	if c == nil {
		c = &opCounters{}
		counters[name] = c
	}
	c.invocations++
	for _, operand := range operands {
		c.inputElements += operand.Size()
	}
}

// ResetCounters clears the cumulative statistics. Meant for tests.
func ResetCounters() {
	countersMu.Lock()
	defer countersMu.Unlock()
	counters = make(map[string]*opCounters)
}

// DumpReport writes the cumulative fold statistics. Lines after the header
// are sorted by operator name.
func DumpReport(w io.Writer) {
	countersMu.Lock()
	defer countersMu.Unlock()
	names := make([]string, 0, len(counters))
	totalInvocations, totalInputElements := 0, 0
	for name, c := range counters {
		names = append(names, name)
		totalInvocations += c.invocations
		totalInputElements += c.inputElements
	}
	sort.Strings(names)
	fmt.Fprintf(w, "constprop report (cumulative), entries: %d, total invocations:%d, total input elements:%d\n",
		len(counters), totalInvocations, totalInputElements)
	for _, name := range names {
		c := counters[name]
		fmt.Fprintf(w, "  %s invocations:%d input elements:%d\n", name, c.invocations, c.inputElements)
	}
}
