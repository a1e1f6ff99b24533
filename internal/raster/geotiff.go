// Package raster reads single-band GeoTIFF files into labeled grids.
package raster

import (
	"fmt"
	"math"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/lukeroth/gdal"
)

// Grid is a single-band raster with per-axis coordinates derived from the
// file's affine geotransform. Y follows the raster's native row order, which
// is commonly north-to-south (descending).
type Grid struct {
	Data       *sparse.DenseArray // shape [y][x]
	X          []float64
	Y          []float64
	NoData     float64
	HasNoData  bool
	Projection string
}

// IsGeographic reports whether the raster's projection is plain WGS84
// latitude/longitude.
func (g *Grid) IsGeographic() bool {
	p := g.Projection
	return strings.Contains(p, "4326") ||
		(strings.Contains(p, "GEOGCS") && !strings.Contains(p, "PROJCS"))
}

// ReadGeoTIFF reads band 1 of the file. No-data cells become NaN.
func ReadGeoTIFF(path string) (*Grid, error) {
	ds, err := gdal.Open(path, gdal.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer ds.Close()

	width := ds.RasterXSize()
	height := ds.RasterYSize()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%s: empty raster", path)
	}

	gt := ds.GeoTransform()
	// gt[0], gt[3] are the top-left corner; gt[1], gt[5] the pixel sizes.
	// Coordinates label pixel centers.
	x := make([]float64, width)
	for j := range x {
		x[j] = gt[0] + (float64(j)+0.5)*gt[1]
	}
	y := make([]float64, height)
	for i := range y {
		y[i] = gt[3] + (float64(i)+0.5)*gt[5]
	}

	band := ds.RasterBand(1)
	nodata, hasNoData := band.NoDataValue()

	buf := make([]float32, width*height)
	if err := band.IO(gdal.Read, 0, 0, width, height, buf, width, height, 0, 0); err != nil {
		return nil, fmt.Errorf("reading band 1 of %s: %w", path, err)
	}

	arr := sparse.ZerosDense(height, width)
	for i, v := range buf {
		fv := float64(v)
		if hasNoData && fv == nodata {
			fv = math.NaN()
		}
		arr.Elements[i] = fv
	}
	return &Grid{
		Data:       arr,
		X:          x,
		Y:          y,
		NoData:     nodata,
		HasNoData:  hasNoData,
		Projection: ds.Projection(),
	}, nil
}
