// Package benchmarks implements support functionality for the benchmark
// tests of the elements builder.
package benchmarks

import (
	"math"
	"testing"

	"github.com/gomlx/onnx-constprop/elements"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// requireSameElementsFloat32 compares two values and fails the test if any
// element differs by more than delta.
func requireSameElementsFloat32(t *testing.T, want, got *elements.Elements, delta float64) {
	require.True(t, got.Shape().Equal(want.Shape()))
	gotFlat := elements.Flat[float32](got)
	wantFlat := elements.Flat[float32](want)
	var mismatches int
	for flatIdx := range gotFlat {
		if math.Abs(float64(gotFlat[flatIdx])-float64(wantFlat[flatIdx])) > delta {
			mismatches++
		}
	}
	if mismatches > 0 {
		panic(errors.Errorf("found %d mismatches in elements", mismatches))
	}
}
