package earthengine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/blackhillsgeo/datacube/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTaskService records submissions and serves scripted responses.
type fakeTaskService struct {
	mu           sync.Mutex
	submitted    []string
	imageCount   int
	emptyKeys    map[string]bool
	activeCounts []int // consumed one per ActiveTaskCount call; last repeats
}

func (f *fakeTaskService) CountImages(ctx context.Context, q ImageQuery) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := TaskKey(q.Variable, q.Model, q.Scenario, yearOf(q.StartDate), yearOf(q.EndDate), seasonOf(q.Months))
	if f.emptyKeys[key] {
		return 0, nil
	}
	return f.imageCount, nil
}

func (f *fakeTaskService) StartExport(ctx context.Context, req ExportRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req.Description)
	return "projects/test/operations/" + req.Description, nil
}

func (f *fakeTaskService) ActiveTaskCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.activeCounts) == 0 {
		return 0, nil
	}
	n := f.activeCounts[0]
	if len(f.activeCounts) > 1 {
		f.activeCounts = f.activeCounts[1:]
	}
	return n, nil
}

func yearOf(date string) int {
	var y int
	for _, c := range date[:4] {
		y = y*10 + int(c-'0')
	}
	return y
}

func seasonOf(months []int) string {
	switch months[0] {
	case 12:
		return "DJF"
	case 3:
		return "MAM"
	case 6:
		return "JJA"
	}
	return "SON"
}

func newTestExporter(t *testing.T, svc TaskService, dir string) *Exporter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := NewExporter(svc, dir, logger, observability.NewMetricsForTesting())
	require.NoError(t, err)
	return e
}

func TestTaskKey(t *testing.T) {
	key := TaskKey("tasmax", "GFDL-ESM2M", "historical", 1950, 1952, "DJF")
	assert.Equal(t, "tasmax_GFDL-ESM2M_historical_1950_1952_DJF", key)
}

func TestEstimateTasks(t *testing.T) {
	// historical spans 56 years -> 19 three-year windows, 4 seasons each.
	assert.Equal(t, 76, EstimateTasks([]string{"tasmax"}, []string{"GFDL-ESM2M"}, []string{"historical"}))
	assert.Equal(t, 76*3*2, EstimateTasks(
		[]string{"tasmax", "tasmin", "pr"},
		[]string{"GFDL-ESM2M", "MIROC5"},
		[]string{"historical"}))
	// Unknown scenarios contribute nothing.
	assert.Zero(t, EstimateTasks([]string{"tasmax"}, []string{"GFDL-ESM2M"}, []string{"rcp99"}))
}

func TestExporter_RunSubmitsFullCrossProduct(t *testing.T) {
	svc := &fakeTaskService{imageCount: 9}
	e := newTestExporter(t, svc, t.TempDir())

	stats, err := e.Run(context.Background(), []string{"tasmax"}, []string{"GFDL-ESM2M"}, []string{"historical"})
	require.NoError(t, err)

	assert.Equal(t, 76, stats.Started)
	assert.Zero(t, stats.Skipped)
	assert.Len(t, svc.submitted, 76)
	assert.Contains(t, svc.submitted, "tasmax_GFDL-ESM2M_historical_1950_1952_DJF")
	// The final window is clipped to the scenario's end year.
	assert.Contains(t, svc.submitted, "tasmax_GFDL-ESM2M_historical_2004_2005_SON")
}

func TestExporter_ResumeDoesNotResubmit(t *testing.T) {
	dir := t.TempDir()
	done := []string{"tasmax_GFDL-ESM2M_historical_1950_1952_DJF"}
	data, err := json.MarshalIndent(done, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProgressFileName), data, 0o644))

	svc := &fakeTaskService{imageCount: 9}
	e := newTestExporter(t, svc, dir)
	require.Equal(t, 1, e.CompletedCount())

	stats, err := e.Run(context.Background(), []string{"tasmax"}, []string{"GFDL-ESM2M"}, []string{"historical"})
	require.NoError(t, err)

	assert.Equal(t, 75, stats.Started)
	assert.Equal(t, 1, stats.Skipped)
	assert.NotContains(t, svc.submitted, "tasmax_GFDL-ESM2M_historical_1950_1952_DJF")
}

func TestExporter_ProgressFilePersistsSorted(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeTaskService{imageCount: 1}
	e := newTestExporter(t, svc, dir)

	_, err := e.Run(context.Background(), []string{"pr"}, []string{"MIROC5"}, []string{"historical"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, ProgressFileName))
	require.NoError(t, err)
	var keys []string
	require.NoError(t, json.Unmarshal(data, &keys))
	require.Len(t, keys, 76)
	assert.IsIncreasing(t, keys)
}

func TestExporter_EmptyCombinationIsSkippedNotFatal(t *testing.T) {
	svc := &fakeTaskService{
		imageCount: 5,
		emptyKeys: map[string]bool{
			"tasmax_GFDL-ESM2M_historical_1950_1952_MAM": true,
		},
	}
	e := newTestExporter(t, svc, t.TempDir())

	stats, err := e.Run(context.Background(), []string{"tasmax"}, []string{"GFDL-ESM2M"}, []string{"historical"})
	require.NoError(t, err)

	assert.Equal(t, 75, stats.Started)
	require.Len(t, stats.NoData, 1)
	assert.Equal(t, "tasmax_GFDL-ESM2M_historical_1950_1952_MAM", stats.NoData[0])
	// Empty combinations are not recorded as completed; a later run retries.
	assert.Equal(t, 75, e.CompletedCount())
}

func TestExporter_ThrottleWaitsForCapacity(t *testing.T) {
	svc := &fakeTaskService{activeCounts: []int{TaskLimit + 10, TaskLimit, 3}}
	e := newTestExporter(t, svc, t.TempDir())
	fc := clockwork.NewFakeClock()
	e.clock = fc

	done := make(chan error, 1)
	go func() {
		done <- e.throttle(context.Background())
	}()

	// Two over-limit polls, each followed by a 60s wait.
	for i := 0; i < 2; i++ {
		fc.BlockUntil(1)
		fc.Advance(throttleWait)
	}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("throttle did not release after capacity freed")
	}
}

func TestExporter_ThrottleRespectsCancellation(t *testing.T) {
	svc := &fakeTaskService{activeCounts: []int{TaskLimit}}
	e := newTestExporter(t, svc, t.TempDir())
	fc := clockwork.NewFakeClock()
	e.clock = fc

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.throttle(ctx)
	}()
	fc.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("throttle did not observe cancellation")
	}
}

func TestExporter_Status(t *testing.T) {
	svc := &fakeTaskService{activeCounts: []int{7}}
	e := newTestExporter(t, svc, t.TempDir())
	e.completed["a"] = true
	e.completed["b"] = true

	active, completed, err := e.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, active)
	assert.Equal(t, 2, completed)
}
