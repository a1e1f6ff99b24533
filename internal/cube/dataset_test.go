package cube

import (
	"testing"

	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarNames_Sorted(t *testing.T) {
	d := NewDataset("multi")
	d.Lat = []float64{44.0}
	d.Lon = []float64{-104.0}
	for _, name := range []string{"tasmin", "evt", "pr", "tasmax"} {
		require.NoError(t, d.AddVar(name, &Variable{Data: sparse.ZerosDense(1, 1)}))
	}
	assert.Equal(t, []string{"evt", "pr", "tasmax", "tasmin"}, d.VarNames())
}
