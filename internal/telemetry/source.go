package telemetry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrSourceUnavailable means the telemetry file does not exist yet.
// Expected while waiting for a producer to start.
var ErrSourceUnavailable = errors.New("telemetry source unavailable")

// Source tails a line-delimited JSON telemetry file by line offset.
// The cursor lives in process memory only; a restart re-reads the file
// from the beginning.
type Source struct {
	path   string
	cursor int
}

func NewSource(path string) *Source {
	return &Source{path: path}
}

// Fetch returns all records appended since the last call and advances
// the cursor to the end of the file regardless of how many parsed.
// Blank and malformed lines are skipped, not fatal.
func (s *Source) Fetch() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, s.path)
		}
		return nil, fmt.Errorf("read telemetry source: %w", err)
	}

	lines := splitLines(data)
	if s.cursor > len(lines) {
		// File shrank under us (rotated or truncated); start over.
		log.Warn().Str("path", s.path).Int("cursor", s.cursor).Int("lines", len(lines)).
			Msg("telemetry file shorter than cursor, resetting to start")
		s.cursor = 0
	}

	var records []Record
	for i, line := range lines[s.cursor:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.Warn().Err(err).Int("line", s.cursor+i+1).Msg("skipping malformed telemetry line")
			continue
		}
		records = append(records, rec)
	}
	s.cursor = len(lines)

	return records, nil
}

// Cursor returns the count of lines already consumed.
func (s *Source) Cursor() int {
	return s.cursor
}

func splitLines(data []byte) []string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}
