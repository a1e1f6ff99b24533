package cube

import "errors"

// Sentinel errors for the processing taxonomy. Callers branch with errors.Is
// rather than inspecting message text.
var (
	// ErrUnknownAggregation reports an aggregation method outside the
	// supported set.
	ErrUnknownAggregation = errors.New("cube: unknown aggregation method")

	// ErrUnknownInterpolation reports an interpolation method outside the
	// supported set.
	ErrUnknownInterpolation = errors.New("cube: unknown interpolation method")

	// ErrUnknownFrequency reports an unparseable temporal frequency string.
	ErrUnknownFrequency = errors.New("cube: unknown temporal frequency")

	// ErrUnknownDimension reports a dataset whose coordinate dimensions could
	// not be resolved against the known aliases.
	ErrUnknownDimension = errors.New("cube: could not identify coordinate dimensions")

	// ErrNoDatasets reports a merge attempted before any dataset was added.
	ErrNoDatasets = errors.New("cube: no datasets have been added")

	// ErrNoTimeBounds reports a merge whose inputs carry no usable time axis.
	ErrNoTimeBounds = errors.New("cube: could not determine time bounds from datasets")
)
