// Package ingest brings raw tabular data into the engine: CSV files for
// batch training, a REST dataset service for paged fetches, and a WebSocket
// feed for live labeled feedback.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"lightmix/internal/dataset"
)

// ReadCSV loads a CSV file into a frame. The first record is the header;
// empty cells stay empty and count as missing downstream.
func ReadCSV(path string) (*dataset.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()
	return readCSV(f)
}

func readCSV(r io.Reader) (*dataset.Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("ingest: read csv header: %w", err)
	}

	frame := dataset.NewFrame(header)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: read csv record: %w", err)
		}
		if err := frame.Append(record); err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
	}
	return frame, nil
}
