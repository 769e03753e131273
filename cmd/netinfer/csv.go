package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/irfndi/celebrum-netinfer/internal/models"
)

// readSeriesCSV parses "timestamp,<ID>,<ID>..." rows with RFC3339 timestamps.
// Empty cells become NaN and are treated as missing prices.
func readSeriesCSV(r io.Reader) (*models.SeriesSet, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv input is empty")
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if len(header) < 2 || !strings.EqualFold(strings.TrimSpace(header[0]), "timestamp") {
		return nil, errors.New(`csv header must be "timestamp,<ID>,<ID>..."`)
	}

	ids := make([]string, len(header)-1)
	set := &models.SeriesSet{Values: make(map[string][]float64, len(ids))}
	for i, h := range header[1:] {
		ids[i] = strings.TrimSpace(h)
		if _, dup := set.Values[ids[i]]; dup {
			return nil, fmt.Errorf("duplicate column %q", ids[i])
		}
		set.Values[ids[i]] = nil
	}
	set.IDs = ids

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid timestamp: %w", line, err)
		}
		set.Timestamps = append(set.Timestamps, ts.UTC())
		for i, id := range ids {
			v := math.NaN()
			if cell := strings.TrimSpace(record[i+1]); cell != "" {
				if v, err = strconv.ParseFloat(cell, 64); err != nil {
					return nil, fmt.Errorf("line %d column %q: %w", line, id, err)
				}
			}
			set.Values[id] = append(set.Values[id], v)
		}
	}
	return set, nil
}
