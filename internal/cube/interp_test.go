package cube

import (
	"math"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterpMethod(t *testing.T) {
	m, err := ParseInterpMethod("Bilinear")
	require.NoError(t, err)
	assert.Equal(t, InterpBilinear, m)

	_, err = ParseInterpMethod("quintic")
	require.ErrorIs(t, err, ErrUnknownInterpolation)
}

func TestCanInterpolate(t *testing.T) {
	assert.True(t, CanInterpolate(InterpNearest, 1, 1))
	assert.False(t, CanInterpolate(InterpLinear, 1, 5))
	assert.True(t, CanInterpolate(InterpLinear, 2, 2))
	assert.False(t, CanInterpolate(InterpCubic, 3, 5))
	assert.True(t, CanInterpolate(InterpCubic, 4, 4))
}

// planeVar builds a [lat][lon] variable with value a*lat + b*lon.
func planeVar(lat, lon []float64, a, b float64) *Variable {
	arr := sparse.ZerosDense(len(lat), len(lon))
	for i, la := range lat {
		for j, lo := range lon {
			arr.Set(a*la+b*lo, i, j)
		}
	}
	return &Variable{Data: arr}
}

func TestRegridVar_LinearReproducesPlane(t *testing.T) {
	srcLat := []float64{44.0, 44.2, 44.4, 44.6}
	srcLon := []float64{-104.0, -103.8, -103.6, -103.4}
	v := planeVar(srcLat, srcLon, 2, 3)

	dstLat := []float64{44.1, 44.3, 44.5}
	dstLon := []float64{-103.9, -103.7, -103.5}

	out, fellBack, err := RegridVar(v, srcLat, srcLon, dstLat, dstLon, InterpLinear)
	require.NoError(t, err)
	assert.False(t, fellBack)
	for i, la := range dstLat {
		for j, lo := range dstLon {
			assert.InDelta(t, 2*la+3*lo, out.Data.Get(i, j), 1e-9)
		}
	}
}

func TestRegridVar_DescendingLatitude(t *testing.T) {
	// Rasters commonly store latitude north-to-south.
	srcLat := []float64{44.6, 44.4, 44.2, 44.0}
	srcLon := []float64{-104.0, -103.8, -103.6, -103.4}
	v := planeVar(srcLat, srcLon, 5, 0)

	out, _, err := RegridVar(v, srcLat, srcLon, []float64{44.1, 44.5}, []float64{-103.9}, InterpLinear)
	require.NoError(t, err)
	assert.InDelta(t, 5*44.1, out.Data.Get(0, 0), 1e-9)
	assert.InDelta(t, 5*44.5, out.Data.Get(1, 0), 1e-9)
}

func TestRegridVar_NaNOutsideSourceExtent(t *testing.T) {
	srcLat := []float64{44.0, 44.2}
	srcLon := []float64{-104.0, -103.8}
	v := planeVar(srcLat, srcLon, 1, 1)

	out, _, err := RegridVar(v, srcLat, srcLon, []float64{43.0, 44.1}, []float64{-103.9}, InterpLinear)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(out.Data.Get(0, 0)), "target below source extent must be missing")
	assert.False(t, math.IsNaN(out.Data.Get(1, 0)))
}

func TestRegridVar_NearestPicksClosest(t *testing.T) {
	srcLat := []float64{44.0, 45.0}
	srcLon := []float64{-104.0, -103.0}
	arr := sparse.ZerosDense(2, 2)
	arr.Set(10, 0, 0)
	arr.Set(20, 0, 1)
	arr.Set(30, 1, 0)
	arr.Set(40, 1, 1)
	v := &Variable{Data: arr}

	out, _, err := RegridVar(v, srcLat, srcLon, []float64{44.1, 44.9}, []float64{-103.9, -103.1}, InterpNearest)
	require.NoError(t, err)
	assert.Equal(t, 10.0, out.Data.Get(0, 0))
	assert.Equal(t, 20.0, out.Data.Get(0, 1))
	assert.Equal(t, 30.0, out.Data.Get(1, 0))
	assert.Equal(t, 40.0, out.Data.Get(1, 1))
}

func TestRegridVar_FallsBackWhenAxisTooShort(t *testing.T) {
	// A single-column source cannot support linear interpolation; the probe
	// must degrade to nearest instead of failing.
	srcLat := []float64{44.0, 44.5}
	srcLon := []float64{-104.0}
	arr := sparse.ZerosDense(2, 1)
	arr.Set(1, 0, 0)
	arr.Set(2, 1, 0)
	v := &Variable{Data: arr}

	out, fellBack, err := RegridVar(v, srcLat, srcLon, []float64{44.1, 44.4}, []float64{-104.2, -103.8}, InterpLinear)
	require.NoError(t, err)
	assert.True(t, fellBack)
	assert.Equal(t, 1.0, out.Data.Get(0, 0))
	assert.Equal(t, 2.0, out.Data.Get(1, 1))
}

func TestRegridVar_CubicOnLinearRamp(t *testing.T) {
	// A natural cubic spline reproduces straight lines exactly.
	srcLat := []float64{44.0, 44.1, 44.2, 44.3, 44.4}
	srcLon := []float64{-104.0, -103.9, -103.8, -103.7, -103.6}
	v := planeVar(srcLat, srcLon, 10, -4)

	out, fellBack, err := RegridVar(v, srcLat, srcLon, []float64{44.15, 44.25}, []float64{-103.85}, InterpCubic)
	require.NoError(t, err)
	assert.False(t, fellBack)
	assert.InDelta(t, 10*44.15-4*(-103.85), out.Data.Get(0, 0), 1e-6)
	assert.InDelta(t, 10*44.25-4*(-103.85), out.Data.Get(1, 0), 1e-6)
}

func TestRegridVar_TimeAxisPreserved(t *testing.T) {
	srcLat := []float64{44.0, 44.2}
	srcLon := []float64{-104.0, -103.8}
	arr := sparse.ZerosDense(3, 2, 2)
	for i := range arr.Elements {
		arr.Elements[i] = float64(i)
	}
	v := &Variable{Data: arr, HasTime: true}

	out, _, err := RegridVar(v, srcLat, srcLon, []float64{44.1}, []float64{-103.9}, InterpLinear)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 1}, out.Data.Shape)
}
