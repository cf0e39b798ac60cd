// Package courier imports courier shipping rates from CSV through the ingest pipeline.
package courier

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Columns is the canonical column order of a rate record.
var Columns = []string{"courier_code", "service_code", "origin_code", "destination_code", "weight_kg", "price", "etd"}

// ErrMalformedRow indicates a record that cannot be mapped to a Rate.
var ErrMalformedRow = fmt.Errorf("courier: malformed row: %w", shared.ErrValidation)

// ErrHeader indicates a missing required column.
var ErrHeader = fmt.Errorf("courier: header: %w", shared.ErrValidation)

// Rate is one courier price for a route.
type Rate struct {
	CourierCode     string          `db:"courier_code"`
	ServiceCode     string          `db:"service_code"`
	OriginCode      string          `db:"origin_code"`
	DestinationCode string          `db:"destination_code"`
	WeightKg        decimal.Decimal `db:"weight_kg"`
	Price           decimal.Decimal `db:"price"`
	ETD             string          `db:"etd"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// Record is a CSV row reordered into Columns order.
type Record []string

// ReadRecords parses CSV with a header row. Columns may appear in any order;
// unknown columns are ignored. Short or long rows are kept and fail later in
// ParseRecord so they are counted as skipped.
func ReadRecords(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrHeader)
		}
		return nil, err
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	positions := make([]int, len(Columns))
	for i, col := range Columns {
		pos, ok := index[col]
		if !ok {
			return nil, fmt.Errorf("%w: missing column %s", ErrHeader, col)
		}
		positions[i] = pos
	}

	var records []Record
	for {
		raw, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				records = append(records, nil)
				continue
			}
			return nil, err
		}
		rec := make(Record, len(Columns))
		for i, pos := range positions {
			if pos >= len(raw) {
				rec = nil
				break
			}
			rec[i] = strings.TrimSpace(raw[pos])
		}
		records = append(records, rec)
	}
	return records, nil
}

// ParseRecord validates a record into a Rate.
func ParseRecord(rec Record) (Rate, error) {
	if len(rec) != len(Columns) {
		return Rate{}, fmt.Errorf("%w: expected %d columns", ErrMalformedRow, len(Columns))
	}
	for i := 0; i < 4; i++ {
		if rec[i] == "" {
			return Rate{}, fmt.Errorf("%w: %s required", ErrMalformedRow, Columns[i])
		}
	}
	weight, err := decimal.NewFromString(rec[4])
	if err != nil || !weight.IsPositive() {
		return Rate{}, fmt.Errorf("%w: weight_kg %q", ErrMalformedRow, rec[4])
	}
	price, err := decimal.NewFromString(rec[5])
	if err != nil || price.IsNegative() {
		return Rate{}, fmt.Errorf("%w: price %q", ErrMalformedRow, rec[5])
	}
	return Rate{
		CourierCode:     strings.ToUpper(rec[0]),
		ServiceCode:     strings.ToUpper(rec[1]),
		OriginCode:      rec[2],
		DestinationCode: rec[3],
		WeightKg:        weight,
		Price:           price.Round(2),
		ETD:             rec[6],
	}, nil
}
