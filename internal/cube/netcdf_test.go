package cube

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveOpenDataset_RoundTrip(t *testing.T) {
	d := NewDataset("roundtrip")
	d.Lat = []float64{43.5, 44.0, 44.5}
	d.Lon = []float64{-104.5, -104.0}
	d.TimeDecoded = true
	d.Calendar = "standard"
	d.Time = []time.Time{
		time.Date(2000, time.January, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2000, time.February, 29, 0, 0, 0, 0, time.UTC),
	}
	arr := sparse.ZerosDense(2, 3, 2)
	for i := range arr.Elements {
		arr.Elements[i] = float64(i) + 0.5
	}
	arr.Set(math.NaN(), 1, 2, 1)
	require.NoError(t, d.AddVar("tasmax", &Variable{
		Data:    arr,
		HasTime: true,
		Attrs:   map[string]string{"units": "K"},
	}))

	path := filepath.Join(t.TempDir(), "roundtrip.nc")
	require.NoError(t, SaveDataset(path, d))

	got, err := OpenDataset(path)
	require.NoError(t, err)

	assert.Equal(t, "roundtrip", got.Name)
	assert.Equal(t, d.Lat, got.Lat)
	assert.Equal(t, d.Lon, got.Lon)
	require.True(t, got.TimeDecoded)
	require.Len(t, got.Time, 2)
	assert.True(t, got.Time[0].Equal(d.Time[0]))
	assert.True(t, got.Time[1].Equal(d.Time[1]))

	v, ok := got.Vars["tasmax"]
	require.True(t, ok)
	assert.True(t, v.HasTime)
	assert.Equal(t, "K", v.Attrs["units"])
	assert.InDelta(t, 0.5, v.Data.Get(0, 0, 0), 1e-6)
	assert.True(t, math.IsNaN(v.Data.Get(1, 2, 1)), "fill value must read back as missing")
}

func TestSaveOpenDataset_NonStandardCalendarStaysRaw(t *testing.T) {
	d := NewDataset("noleap")
	d.Lat = []float64{44.0}
	d.Lon = []float64{-104.0}
	d.Calendar = "noleap"
	d.TimeRaw = []float64{15, 45, 75}
	arr := sparse.ZerosDense(3, 1, 1)
	require.NoError(t, d.AddVar("pr", &Variable{Data: arr, HasTime: true}))

	path := filepath.Join(t.TempDir(), "noleap.nc")
	require.NoError(t, SaveDataset(path, d))

	got, err := OpenDataset(path)
	require.NoError(t, err)
	assert.False(t, got.TimeDecoded)
	assert.Equal(t, "noleap", got.Calendar)
	assert.Equal(t, d.TimeRaw, got.TimeRaw)
}

func TestSaveOpenDataset_StaticGrid(t *testing.T) {
	d := NewDataset("static")
	d.Lat = []float64{44.0, 44.1}
	d.Lon = []float64{-104.0, -103.9}
	arr := sparse.ZerosDense(2, 2)
	arr.Set(7, 1, 0)
	require.NoError(t, d.AddVar("evt", &Variable{Data: arr}))

	path := filepath.Join(t.TempDir(), "static.nc")
	require.NoError(t, SaveDataset(path, d))

	got, err := OpenDataset(path)
	require.NoError(t, err)
	assert.Zero(t, got.TimeLen())
	v := got.Vars["evt"]
	require.NotNil(t, v)
	assert.False(t, v.HasTime)
	assert.Equal(t, 7.0, v.Data.Get(1, 0))
}

func TestParseTimeUnits(t *testing.T) {
	epoch, ok := parseTimeUnits("days since 1900-01-01")
	require.True(t, ok)
	assert.Equal(t, 1900, epoch.Year())

	_, ok = parseTimeUnits("hours since 1900-01-01")
	assert.False(t, ok)
	_, ok = parseTimeUnits("")
	assert.False(t, ok)
}
