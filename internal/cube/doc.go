// Package cube holds the gridded-data model and the processing stages that
// turn heterogeneous geospatial sources into one merged datacube: labeled
// lat/lon/time datasets, spatial and temporal bucketing with pluggable
// aggregation, grid interpolation with probing and fallback, NetCDF-3
// persistence, and the multi-source merge builder.
package cube
