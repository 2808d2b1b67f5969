// Package engine runs the detection loop: it tails the telemetry
// source, routes records to training or scoring, applies ground-truth
// feedback to the model, and persists confirmed anomalies.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Dyrun/Anomaly-Detection/internal/features"
	"github.com/Dyrun/Anomaly-Detection/internal/metrics"
	"github.com/Dyrun/Anomaly-Detection/internal/ml"
	"github.com/Dyrun/Anomaly-Detection/internal/notify"
	"github.com/Dyrun/Anomaly-Detection/internal/store"
	"github.com/Dyrun/Anomaly-Detection/internal/telemetry"
)

// Config holds loop pacing and feedback tuning.
type Config struct {
	PollInterval     time.Duration // rest between clean cycles
	ErrorBackoff     time.Duration // rest after a failed cycle
	RetrainThreshold int           // misjudged count that must be exceeded to retrain
	MaxBufferSize    int           // training buffer cap, 0 = unbounded
}

// DefaultConfig returns the pacing the service ships with.
func DefaultConfig() Config {
	return Config{
		PollInterval:     2 * time.Second,
		ErrorBackoff:     5 * time.Second,
		RetrainThreshold: 10,
	}
}

// Engine owns all mutable detection state: the model, the training
// buffer, the misjudged counter, and (through Source) the ingestion
// cursor. It runs as a single sequential control flow; nothing here is
// safe for concurrent use.
type Engine struct {
	cfg       Config
	src       *telemetry.Source
	detector  *ml.Detector
	anomalies *store.AnomalyStore
	archive   *store.Archive   // optional
	notifier  *notify.Notifier // optional
	metrics   *metrics.Metrics // optional

	buffer    []telemetry.Record
	misjudged int
	clock     Clock
}

func New(cfg Config, src *telemetry.Source, detector *ml.Detector, anomalies *store.AnomalyStore,
	archive *store.Archive, notifier *notify.Notifier, m *metrics.Metrics,
) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if cfg.RetrainThreshold <= 0 {
		cfg.RetrainThreshold = 10
	}
	return &Engine{
		cfg:       cfg,
		src:       src,
		detector:  detector,
		anomalies: anomalies,
		archive:   archive,
		notifier:  notifier,
		metrics:   m,
		clock:     realClock{},
	}
}

// Run executes cycles until ctx is canceled. Errors inside a cycle
// stretch the rest interval but never stop the loop; only cancellation
// does. Cancellation is checked at the top of every cycle and honored
// during rest, so the error backoff cannot swallow it.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.anomalies.Reset(); err != nil {
		log.Warn().Err(err).Msg("could not reset anomaly store")
	}
	log.Info().Msg("detection engine started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("detection engine stopped")
			return ctx.Err()
		default:
		}

		rest := e.cfg.PollInterval
		if err := e.cycle(); err != nil {
			log.Error().Err(err).Dur("backoff", e.cfg.ErrorBackoff).Msg("detection cycle failed")
			if e.metrics != nil {
				e.metrics.CycleErrors.Inc()
			}
			rest = e.cfg.ErrorBackoff
		}
		if e.metrics != nil {
			e.metrics.CyclesTotal.Inc()
		}

		e.clock.Sleep(ctx, rest)
	}
}

// cycle pulls everything past the cursor and routes it. Expected
// not-ready conditions (source absent, model untrained, buffer too
// small) resolve inside the cycle; a returned error means something
// genuinely failed and the caller should back off.
func (e *Engine) cycle() error {
	records, err := e.src.Fetch()
	if err != nil {
		if errors.Is(err, telemetry.ErrSourceUnavailable) {
			log.Info().Msg("telemetry source not found, waiting for data")
			return nil
		}
		// A file that exists but cannot be read takes the error backoff:
		// it means broken permissions or disk trouble, not the writer
		// lagging behind.
		return err
	}
	if len(records) == 0 {
		log.Debug().Msg("no new telemetry, waiting for data")
		if e.metrics != nil {
			e.metrics.NoDataCount.Inc()
		}
		return nil
	}

	if e.metrics != nil {
		e.metrics.RecordsIngested.Add(float64(len(records)))
	}
	if e.archive != nil {
		if err := e.archive.StoreRecords(records, e.clock.Now()); err != nil {
			log.Warn().Err(err).Msg("telemetry archive write failed")
		}
	}

	var training, scoring []telemetry.Record
	for _, r := range records {
		if r.InTrainingPhase() {
			training = append(training, r)
		} else {
			scoring = append(scoring, r)
		}
	}

	if len(training) > 0 && !e.detector.Trained() {
		e.appendToBuffer(training...)
		if err := e.fitBuffer(); err != nil {
			if errors.Is(err, ml.ErrInsufficientData) {
				log.Info().Int("buffered", len(e.buffer)).Int("need", ml.MinTrainingSamples).
					Msg("not enough training data yet")
			} else {
				return err
			}
		}
	}

	if len(scoring) > 0 && e.detector.Trained() {
		log.Info().Int("count", len(scoring)).Msg("scoring telemetry batch")
		anomalies, err := e.detect(scoring)
		if err != nil {
			return err
		}
		log.Info().Int("anomalies", len(anomalies)).Msg("batch scored")
		if len(anomalies) > 0 {
			if err := e.anomalies.Append(anomalies); err != nil {
				return err
			}
			if e.archive != nil {
				if err := e.archive.StoreAnomalies(anomalies); err != nil {
					log.Warn().Err(err).Msg("anomaly archive write failed")
				}
			}
			e.notifier.Notify(anomalies)
		}
	}

	return nil
}

// detect scores a batch and applies the feedback contract to each
// outlier: a record the ground truth calls normal is folded back into
// the training buffer instead of being reported, and enough of those
// disagreements forces a retrain. Labels for the whole batch are
// computed up front, so a mid-batch retrain affects later batches
// only.
func (e *Engine) detect(records []telemetry.Record) ([]telemetry.Anomaly, error) {
	valid := make([]telemetry.Record, 0, len(records))
	vectors := make([]features.Vector, 0, len(records))
	for _, r := range records {
		v, err := features.Extract(r)
		if err != nil {
			log.Warn().Err(err).Float64("timestamp", r.Timestamp).Msg("dropping malformed record")
			if e.metrics != nil {
				e.metrics.MalformedRecords.Inc()
			}
			continue
		}
		valid = append(valid, r)
		vectors = append(vectors, v)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	labels, err := e.detector.Score(vectors)
	if err != nil {
		return nil, err
	}

	var anomalies []telemetry.Anomaly
	for i, label := range labels {
		if label != ml.Outlier {
			continue
		}
		r := valid[i]

		if !r.FailureConfirmed() {
			log.Warn().
				Float64("vibration", *r.Vibration).
				Float64("altitude", *r.Altitude).
				Float64("airspeed", *r.Airspeed).
				Float64("pitch", *r.Pitch).
				Msg("flagged state was not an anomaly, folding back into baseline")
			e.appendToBuffer(r)
			e.misjudged++
			if e.metrics != nil {
				e.metrics.FalsePositives.Inc()
			}
			if e.misjudged > e.cfg.RetrainThreshold {
				e.retrain()
				e.misjudged = 0
			}
			continue
		}

		a := telemetry.NewAnomaly(r, e.clock.Now())
		anomalies = append(anomalies, a)
		if e.metrics != nil {
			e.metrics.AnomalyObserved(string(a.Severity))
		}
		log.Warn().
			Str("severity", string(a.Severity)).
			Float64("vibration", a.Vibration).
			Float64("altitude", a.Altitude).
			Float64("airspeed", a.Airspeed).
			Msg("anomaly detected")
	}
	return anomalies, nil
}

// retrain refits over the full training buffer. A refused fit is a
// no-op by design: the caller still resets the misjudged counter,
// releasing feedback pressure even when there is not enough data to
// act on it.
func (e *Engine) retrain() {
	log.Info().Int("samples", len(e.buffer)).Msg("feedback threshold exceeded, retraining model")
	if err := e.fitBuffer(); err != nil {
		if errors.Is(err, ml.ErrInsufficientData) {
			log.Warn().Int("buffered", len(e.buffer)).Msg("retrain skipped, buffer below minimum")
			return
		}
		log.Error().Err(err).Msg("retrain failed")
		return
	}
	if e.metrics != nil {
		e.metrics.RetrainsTotal.Inc()
	}
}

// fitBuffer fits the detector over the whole training buffer. Records
// that lost required fields are excluded from the fit but stay in the
// buffer.
func (e *Engine) fitBuffer() error {
	vectors := make([]features.Vector, 0, len(e.buffer))
	for _, r := range e.buffer {
		v, err := features.Extract(r)
		if err != nil {
			log.Warn().Err(err).Float64("timestamp", r.Timestamp).Msg("excluding malformed record from fit")
			continue
		}
		vectors = append(vectors, v)
	}
	return e.detector.Fit(vectors)
}

// appendToBuffer grows the training buffer, evicting oldest records
// once the configured cap is exceeded.
func (e *Engine) appendToBuffer(records ...telemetry.Record) {
	e.buffer = append(e.buffer, records...)
	if e.cfg.MaxBufferSize > 0 && len(e.buffer) > e.cfg.MaxBufferSize {
		drop := len(e.buffer) - e.cfg.MaxBufferSize
		e.buffer = append(e.buffer[:0], e.buffer[drop:]...)
	}
	if e.metrics != nil {
		e.metrics.TrainingBufferSize.Set(float64(len(e.buffer)))
	}
}
