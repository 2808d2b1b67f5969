package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/Dyrun/Anomaly-Detection/internal/telemetry"
)

const (
	recordsBucket   = "telemetry" // every ingested record, keyed by ingest time
	anomaliesBucket = "anomalies" // every confirmed anomaly, keyed by detection time
)

// Archive keeps a durable history of the ingested stream in BoltDB for
// offline analysis. The detection path works without it; the engine
// treats a nil Archive as archiving disabled.
type Archive struct {
	db  *bbolt.DB
	seq uint64
}

// NewArchive opens (or creates) the archive database under dataPath
// and ensures both buckets exist.
func NewArchive(dataPath string) (*Archive, error) {
	dbPath := filepath.Join(dataPath, "flightwatch.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(recordsBucket)); err != nil {
			return fmt.Errorf("create telemetry bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(anomaliesBucket)); err != nil {
			return fmt.Errorf("create anomalies bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Archive{db: db}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// StoreRecords archives a batch of ingested records stamped with the
// ingest time.
func (a *Archive) StoreRecords(records []telemetry.Record, ingested time.Time) error {
	return a.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(recordsBucket))
		for _, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal record: %w", err)
			}
			if err := b.Put(a.nextKey(ingested), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// StoreAnomalies archives confirmed anomalies keyed by detection time.
func (a *Archive) StoreAnomalies(anomalies []telemetry.Anomaly) error {
	return a.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(anomaliesBucket))
		for _, an := range anomalies {
			data, err := json.Marshal(an)
			if err != nil {
				return fmt.Errorf("marshal anomaly: %w", err)
			}
			if err := b.Put(a.nextKey(an.DetectedAt), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordsInRange returns archived records ingested within [start, end].
func (a *Archive) RecordsInRange(start, end time.Time) ([]telemetry.Record, error) {
	var records []telemetry.Record
	err := a.scanRange(recordsBucket, start, end, func(v []byte) error {
		var rec telemetry.Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil // skip malformed entries
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

// AnomaliesInRange returns archived anomalies detected within [start, end].
func (a *Archive) AnomaliesInRange(start, end time.Time) ([]telemetry.Anomaly, error) {
	var anomalies []telemetry.Anomaly
	err := a.scanRange(anomaliesBucket, start, end, func(v []byte) error {
		var an telemetry.Anomaly
		if err := json.Unmarshal(v, &an); err != nil {
			return nil
		}
		anomalies = append(anomalies, an)
		return nil
	})
	return anomalies, err
}

func (a *Archive) scanRange(bucket string, start, end time.Time, fn func([]byte) error) error {
	startKey := timeKey(start, 0)
	endKey := timeKey(end, ^uint64(0))

	return a.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()
		for k, v := c.Seek(startKey); k != nil && string(k) <= string(endKey); k, v = c.Next() {
			if err := fn(v); err != nil {
				return err
			}
		}
		return nil
	})
}

// nextKey builds a lexically ordered key from the timestamp plus a
// sequence suffix, so records sharing a nanosecond don't collide.
func (a *Archive) nextKey(t time.Time) []byte {
	a.seq++
	return timeKey(t, a.seq)
}

func timeKey(t time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d_%020d", t.UnixNano(), seq))
}
