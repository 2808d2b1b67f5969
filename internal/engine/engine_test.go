package engine

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/Dyrun/Anomaly-Detection/internal/metrics"
	"github.com/Dyrun/Anomaly-Detection/internal/ml"
	"github.com/Dyrun/Anomaly-Detection/internal/store"
	"github.com/Dyrun/Anomaly-Detection/internal/telemetry"
)

func f64(v float64) *float64 { return &v }
func bptr(v bool) *bool      { return &v }

// cruiseRecord synthesizes one sample near the platform's normal
// operating point, with the vibration reading supplied by the caller.
func cruiseRecord(rng *rand.Rand, ts, vibration float64) telemetry.Record {
	return telemetry.Record{
		Timestamp: ts,
		Altitude:  f64(10000 + rng.NormFloat64()*150),
		Airspeed:  f64(250 + rng.NormFloat64()*10),
		Pitch:     f64(2 + rng.NormFloat64()*1.5),
		Vibration: f64(vibration),
	}
}

func trainingRecords(n int, seed int64) []telemetry.Record {
	rng := rand.New(rand.NewSource(seed))
	records := make([]telemetry.Record, n)
	for i := range records {
		records[i] = cruiseRecord(rng, float64(i), 2+rng.NormFloat64()*0.5)
	}
	return records
}

func scoringRecord(rng *rand.Rand, ts, vibration float64, engineFailure bool) telemetry.Record {
	r := cruiseRecord(rng, ts, vibration)
	r.TrainingPhase = bptr(false)
	r.EngineFailure = bptr(engineFailure)
	return r
}

func appendLines(t *testing.T, path string, records []telemetry.Record) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	defer f.Close()
	for _, r := range records {
		data, err := json.Marshal(r)
		require.NoError(t, err)
		_, err = f.Write(append(data, '\n'))
		require.NoError(t, err)
	}
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewWithRegistry(prometheus.NewRegistry())
}

// trainedEngine builds an engine whose detector is already fit on a
// cruise baseline held in the training buffer.
func trainedEngine(t *testing.T, m *metrics.Metrics) *Engine {
	t.Helper()
	dir := t.TempDir()
	e := New(DefaultConfig(),
		telemetry.NewSource(filepath.Join(dir, "telemetry.jsonl")),
		ml.NewDetector(ml.DefaultConfig(), nil),
		store.NewAnomalyStore(filepath.Join(dir, "anomalies.json")),
		nil, nil, m)

	e.appendToBuffer(trainingRecords(150, 1)...)
	require.NoError(t, e.fitBuffer())
	require.True(t, e.detector.Trained())
	return e
}

func TestEngine_FalsePositiveExcludedAndBuffered(t *testing.T) {
	e := trainedEngine(t, nil)
	before := len(e.buffer)

	rng := rand.New(rand.NewSource(2))
	fp := scoringRecord(rng, 1000, 9.0, false)

	anomalies, err := e.detect([]telemetry.Record{fp})
	require.NoError(t, err)
	require.Empty(t, anomalies, "ground-truth-normal record must not be reported")

	require.Len(t, e.buffer, before+1, "false positive must be buffered exactly once")
	require.Equal(t, fp.Timestamp, e.buffer[len(e.buffer)-1].Timestamp)
	require.Equal(t, 1, e.misjudged)
}

func TestEngine_ConfirmedOutlierReported(t *testing.T) {
	e := trainedEngine(t, nil)
	before := len(e.buffer)

	rng := rand.New(rand.NewSource(3))
	anomalies, err := e.detect([]telemetry.Record{scoringRecord(rng, 1000, 9.0, true)})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	require.Equal(t, telemetry.SeverityCritical, anomalies[0].Severity)
	require.True(t, anomalies[0].EngineFailure)
	require.Len(t, e.buffer, before, "confirmed anomalies are not folded into the baseline")
	require.Equal(t, 0, e.misjudged)
}

func TestEngine_InliersDiscarded(t *testing.T) {
	e := trainedEngine(t, nil)
	before := len(e.buffer)

	rng := rand.New(rand.NewSource(4))
	anomalies, err := e.detect([]telemetry.Record{scoringRecord(rng, 1000, 2.0, false)})
	require.NoError(t, err)
	require.Empty(t, anomalies)
	require.Len(t, e.buffer, before, "inliers are not retained")
	require.Equal(t, 0, e.misjudged)
}

func TestEngine_RetrainTrigger(t *testing.T) {
	m := newTestMetrics()
	e := trainedEngine(t, m)

	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 10; i++ {
		_, err := e.detect([]telemetry.Record{scoringRecord(rng, float64(1000+i), 9.0, false)})
		require.NoError(t, err)
	}
	require.Equal(t, 10, e.misjudged, "the 10th false positive must not trigger a retrain")
	require.Equal(t, float64(0), testutil.ToFloat64(m.RetrainsTotal))

	_, err := e.detect([]telemetry.Record{scoringRecord(rng, 1010, 9.0, false)})
	require.NoError(t, err)
	require.Equal(t, 0, e.misjudged, "the 11th false positive must reset the counter")
	require.Equal(t, float64(1), testutil.ToFloat64(m.RetrainsTotal))
}

func TestEngine_RefusedRetrainStillResetsCounter(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.RetrainThreshold = 2
	e := New(cfg,
		telemetry.NewSource(filepath.Join(dir, "telemetry.jsonl")),
		ml.NewDetector(ml.DefaultConfig(), nil),
		store.NewAnomalyStore(filepath.Join(dir, "anomalies.json")),
		nil, nil, nil)

	// Train on a full baseline, then shrink the buffer below the fit
	// minimum so the next retrain is refused.
	e.appendToBuffer(trainingRecords(150, 1)...)
	require.NoError(t, e.fitBuffer())
	e.buffer = e.buffer[:10]

	rng := rand.New(rand.NewSource(6))
	for i := 0; i < 3; i++ {
		_, err := e.detect([]telemetry.Record{scoringRecord(rng, float64(1000+i), 9.0, false)})
		require.NoError(t, err)
	}
	require.Equal(t, 0, e.misjudged, "counter resets even when the retrain is a no-op")
	require.True(t, e.detector.Trained(), "refused retrain keeps the prior model")
}

func TestEngine_CycleBeforeTraining(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.jsonl")
	e := New(DefaultConfig(),
		telemetry.NewSource(path),
		ml.NewDetector(ml.DefaultConfig(), nil),
		store.NewAnomalyStore(filepath.Join(dir, "anomalies.json")),
		nil, nil, nil)

	// Scoring-phase records before any training: skipped, not fatal.
	rng := rand.New(rand.NewSource(7))
	appendLines(t, path, []telemetry.Record{scoringRecord(rng, 1, 9.0, true)})
	require.NoError(t, e.cycle())
	require.Empty(t, e.anomalies.Load())

	// Too little training data: buffered, fit refused, still no error.
	appendLines(t, path, trainingRecords(30, 8))
	require.NoError(t, e.cycle())
	require.False(t, e.detector.Trained())
	require.Len(t, e.buffer, 30)
}

func TestEngine_MissingSourceIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	e := New(DefaultConfig(),
		telemetry.NewSource(filepath.Join(dir, "never-created.jsonl")),
		ml.NewDetector(ml.DefaultConfig(), nil),
		store.NewAnomalyStore(filepath.Join(dir, "anomalies.json")),
		nil, nil, nil)

	require.NoError(t, e.cycle())
}

func TestEngine_MalformedScoringRecordSkipped(t *testing.T) {
	e := trainedEngine(t, nil)

	rng := rand.New(rand.NewSource(9))
	broken := scoringRecord(rng, 1000, 9.0, true)
	broken.Vibration = nil
	ok := scoringRecord(rng, 1001, 9.0, true)

	anomalies, err := e.detect([]telemetry.Record{broken, ok})
	require.NoError(t, err, "a malformed record aborts that record, not the batch")
	require.Len(t, anomalies, 1)
	require.Equal(t, float64(1001), anomalies[0].Timestamp)
}

func TestEngine_BufferCapEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.MaxBufferSize = 120
	e := New(cfg,
		telemetry.NewSource(filepath.Join(dir, "telemetry.jsonl")),
		ml.NewDetector(ml.DefaultConfig(), nil),
		store.NewAnomalyStore(filepath.Join(dir, "anomalies.json")),
		nil, nil, nil)

	e.appendToBuffer(trainingRecords(150, 1)...)
	require.Len(t, e.buffer, 120)
	require.Equal(t, float64(30), e.buffer[0].Timestamp, "oldest records are evicted first")
}

func TestEngine_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.jsonl")
	m := newTestMetrics()
	e := New(DefaultConfig(),
		telemetry.NewSource(path),
		ml.NewDetector(ml.DefaultConfig(), nil),
		store.NewAnomalyStore(filepath.Join(dir, "anomalies.json")),
		nil, nil, m)

	// Phase 1: baseline of 120 training records.
	appendLines(t, path, trainingRecords(120, 10))
	require.NoError(t, e.cycle())
	require.True(t, e.detector.Trained())

	// Phase 2: one confirmed engine failure at 9g.
	rng := rand.New(rand.NewSource(11))
	appendLines(t, path, []telemetry.Record{scoringRecord(rng, 500, 9.0, true)})
	require.NoError(t, e.cycle())

	persisted := e.anomalies.Load()
	require.Len(t, persisted, 1)
	require.Equal(t, telemetry.SeverityCritical, persisted[0].Severity)

	// Phase 3: eleven ground-truth-normal 9g records. None persist,
	// and the disagreement forces one retrain.
	fps := make([]telemetry.Record, 11)
	for i := range fps {
		fps[i] = scoringRecord(rng, float64(600+i), 9.0, false)
	}
	appendLines(t, path, fps)
	require.NoError(t, e.cycle())

	require.Len(t, e.anomalies.Load(), 1, "false positives must not be persisted")
	require.Equal(t, float64(1), testutil.ToFloat64(m.RetrainsTotal))
	require.Equal(t, 0, e.misjudged)
	require.Len(t, e.buffer, 131, "all eleven false positives folded into the baseline")
}

type fakeClock struct {
	sleeps  []time.Duration
	onSleep func(count int)
}

func (c *fakeClock) Now() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	if c.onSleep != nil {
		c.onSleep(len(c.sleeps))
	}
}

func TestEngine_RunHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	e := New(DefaultConfig(),
		telemetry.NewSource(filepath.Join(dir, "telemetry.jsonl")),
		ml.NewDetector(ml.DefaultConfig(), nil),
		store.NewAnomalyStore(filepath.Join(dir, "anomalies.json")),
		nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	clock := &fakeClock{onSleep: func(count int) {
		if count == 3 {
			cancel()
		}
	}}
	e.clock = clock

	err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, clock.sleeps, 3, "cancellation is honored at the top of the next cycle")
	for _, d := range clock.sleeps {
		require.Equal(t, e.cfg.PollInterval, d, "clean cycles rest at the poll interval")
	}
}

func TestEngine_RunBacksOffAfterError(t *testing.T) {
	dir := t.TempDir()
	// Pointing the source at a directory makes every fetch fail with a
	// real read error, not the benign missing-file case.
	e := New(DefaultConfig(),
		telemetry.NewSource(dir),
		ml.NewDetector(ml.DefaultConfig(), nil),
		store.NewAnomalyStore(filepath.Join(dir, "anomalies.json")),
		nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	clock := &fakeClock{onSleep: func(count int) {
		if count == 2 {
			cancel()
		}
	}}
	e.clock = clock

	err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	for _, d := range clock.sleeps {
		require.Equal(t, e.cfg.ErrorBackoff, d, "failed cycles rest at the error backoff")
	}
}

func TestEngine_RunResetsAnomalyStore(t *testing.T) {
	dir := t.TempDir()
	st := store.NewAnomalyStore(filepath.Join(dir, "anomalies.json"))
	require.NoError(t, st.Append([]telemetry.Anomaly{{Timestamp: 1, Severity: telemetry.SeverityLow}}))

	e := New(DefaultConfig(),
		telemetry.NewSource(filepath.Join(dir, "telemetry.jsonl")),
		ml.NewDetector(ml.DefaultConfig(), nil),
		st, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	e.clock = &fakeClock{onSleep: func(int) { cancel() }}

	require.ErrorIs(t, e.Run(ctx), context.Canceled)
	require.Empty(t, st.Load(), "a prior run's anomalies are discarded at startup")
}
