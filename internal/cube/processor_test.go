package cube

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/blackhillsgeo/datacube/internal/observability"
	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor() *Processor {
	return NewProcessor(testSlog(), observability.NewMetricsForTesting())
}

func TestProcessor_Coarsen(t *testing.T) {
	start := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	d := dailyDataset(t, start, 60)

	out, err := newTestProcessor().Coarsen(d, 0.2, "ME", AggMean)
	require.NoError(t, err)

	// Two monthly steps, one spatial bucket.
	require.Equal(t, 2, out.TimeLen())
	assert.Equal(t, time.Date(2000, time.January, 31, 0, 0, 0, 0, time.UTC), out.Time[0])
	require.Len(t, out.Lat, 1)
	require.Len(t, out.Lon, 1)

	v := out.Vars["v"]
	require.NotNil(t, v)
	assert.Equal(t, []int{2, 1, 1}, v.Data.Shape)
	assert.InDelta(t, 15.0, v.Data.Get(0, 0, 0), 1e-9) // mean of 0..30
	assert.InDelta(t, 45.0, v.Data.Get(1, 0, 0), 1e-9) // mean of 31..59
}

func TestProcessor_CoarsenSpatialOnly(t *testing.T) {
	start := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	d := dailyDataset(t, start, 5)

	out, err := newTestProcessor().Coarsen(d, 0.2, "", AggMean)
	require.NoError(t, err)

	assert.Equal(t, 5, out.TimeLen())
	assert.Len(t, out.Lat, 1)
}

func TestProcessor_CoarsenStrideFallback(t *testing.T) {
	d := NewDataset("undecoded")
	d.Lat = []float64{44.0, 44.1}
	d.Lon = []float64{-104.0, -103.9}
	d.Calendar = "noleap"
	arr := sparse.ZerosDense(24, 2, 2)
	for i := 0; i < 24; i++ {
		d.TimeRaw = append(d.TimeRaw, float64(i*30))
		for la := 0; la < 2; la++ {
			for lo := 0; lo < 2; lo++ {
				arr.Set(float64(i), i, la, lo)
			}
		}
	}
	require.NoError(t, d.AddVar("v", &Variable{Data: arr, HasTime: true}))

	out, err := newTestProcessor().Coarsen(d, 0, "YE", AggMean)
	require.NoError(t, err)

	require.Equal(t, 2, out.TimeLen())
	assert.InDelta(t, 5.5, out.Vars["v"].Data.Get(0, 0, 0), 1e-9)
	assert.InDelta(t, 17.5, out.Vars["v"].Data.Get(1, 0, 0), 1e-9)
}

func TestProcessor_CoarsenFile(t *testing.T) {
	start := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	d := dailyDataset(t, start, 60)
	path := filepath.Join(t.TempDir(), "daily.nc")
	require.NoError(t, SaveDataset(path, d))

	out, err := newTestProcessor().CoarsenFile(path, 0, "ME", AggMean)
	require.NoError(t, err)
	assert.Equal(t, 2, out.TimeLen())
	assert.Len(t, out.Lat, 2)
}
