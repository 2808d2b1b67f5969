// Package store persists confirmed anomalies: a JSON array file that
// downstream consumers poll, plus an optional BoltDB archive of the
// raw stream for offline analysis.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/Dyrun/Anomaly-Detection/internal/telemetry"
)

// AnomalyStore persists anomalies as a single JSON array file. Every
// Append is a read-modify-write of the whole file, so consumers must
// tolerate full rewrites. Not safe for concurrent writers.
type AnomalyStore struct {
	path string
}

func NewAnomalyStore(path string) *AnomalyStore {
	return &AnomalyStore{path: path}
}

// Load reads the persisted collection. A missing, empty, or corrupt
// file reads as an empty collection, not an error: the next Append
// overwrites it anyway.
func (s *AnomalyStore) Load() []telemetry.Anomaly {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", s.path).Msg("anomaly store unreadable, treating as empty")
		}
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	var anomalies []telemetry.Anomaly
	if err := json.Unmarshal(data, &anomalies); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("anomaly store corrupt, treating as empty")
		return nil
	}
	return anomalies
}

// Append concatenates the new anomalies onto the persisted collection
// and rewrites the file. Prior entries keep their order.
func (s *AnomalyStore) Append(anomalies []telemetry.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}

	all := append(s.Load(), anomalies...)
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal anomalies: %w", err)
	}

	// Stage then rename so a poll never observes a half-written array.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write anomaly store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace anomaly store: %w", err)
	}

	log.Info().Int("new", len(anomalies)).Int("total", len(all)).
		Str("path", filepath.Base(s.path)).Msg("anomalies persisted")
	return nil
}

// Reset truncates the store, discarding anomalies from a prior run.
// Called once at engine startup.
func (s *AnomalyStore) Reset() error {
	if err := os.WriteFile(s.path, nil, 0o600); err != nil {
		return fmt.Errorf("reset anomaly store: %w", err)
	}
	return nil
}
