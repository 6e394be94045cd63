// Package panelio reads and writes long-format panels as CSV.
//
// Layout: header unit_id,time_period,group,outcome followed by one column
// per covariate. Covariate headers are free-form; position decides order.
package panelio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"panel-did-lab/internal/domain"
)

const (
	colUnitID = iota
	colPeriod
	colGroup
	colOutcome
	numFixedColumns
)

// CSV errors
var (
	ErrEmptyInput       = errors.New("csv input has no header")
	ErrBadHeader        = errors.New("csv header must start with unit_id,time_period,group,outcome")
	ErrNoRows           = errors.New("csv input has no data rows")
	ErrDuplicateRow     = errors.New("duplicate observation")
	ErrRaggedCovariates = errors.New("rows disagree on covariate count")
)

// ReadCSV parses a long-format panel. Row numbers in errors count CSV
// records including the header, so the first data row is row 2.
func ReadCSV(r io.Reader) ([]domain.Observation, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		return nil, err
	}
	nCov := len(header) - numFixedColumns

	type key struct {
		unit   string
		period int
	}
	seen := make(map[key]int)

	var rows []domain.Observation
	for rowNum := 2; ; rowNum++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// csv.ParseError already names the offending line
			return nil, fmt.Errorf("read csv: %w", err)
		}

		row, err := parseRow(record, nCov)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum, err)
		}

		k := key{unit: row.UnitID, period: row.Period}
		if first, dup := seen[k]; dup {
			return nil, fmt.Errorf("row %d: %w: unit %s period %d first seen at row %d",
				rowNum, ErrDuplicateRow, row.UnitID, row.Period, first)
		}
		seen[k] = rowNum

		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows, nil
}

// WriteCSV writes rows in the ReadCSV layout. Covariate columns are named
// x1..xN; every row must carry the same covariate count. Floats use the
// shortest exact representation, so a write/read cycle preserves values.
func WriteCSV(w io.Writer, rows []domain.Observation) error {
	if len(rows) == 0 {
		return ErrNoRows
	}

	nCov := len(rows[0].Covariates)
	for i := range rows {
		if len(rows[i].Covariates) != nCov {
			return fmt.Errorf("%w: unit %s period %d has %d, first row has %d",
				ErrRaggedCovariates, rows[i].UnitID, rows[i].Period, len(rows[i].Covariates), nCov)
		}
	}

	writer := csv.NewWriter(w)

	header := []string{"unit_id", "time_period", "group", "outcome"}
	for i := 1; i <= nCov; i++ {
		header = append(header, fmt.Sprintf("x%d", i))
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for i := range rows {
		record := make([]string, 0, len(header))
		record = append(record,
			rows[i].UnitID,
			strconv.Itoa(rows[i].Period),
			strconv.Itoa(rows[i].Group),
			formatFloat(rows[i].Outcome),
		)
		for _, x := range rows[i].Covariates {
			record = append(record, formatFloat(x))
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// validateHeader checks the four fixed columns, ignoring case and padding.
func validateHeader(header []string) error {
	want := []string{"unit_id", "time_period", "group", "outcome"}
	if len(header) < numFixedColumns {
		return fmt.Errorf("%w: got %d columns", ErrBadHeader, len(header))
	}
	for i, name := range want {
		if !strings.EqualFold(strings.TrimSpace(header[i]), name) {
			return fmt.Errorf("%w: column %d is %q", ErrBadHeader, i+1, header[i])
		}
	}
	return nil
}

// parseRow converts one record; the csv reader has already enforced the
// field count against the header.
func parseRow(record []string, nCov int) (domain.Observation, error) {
	var o domain.Observation
	o.UnitID = strings.TrimSpace(record[colUnitID])

	period, err := strconv.Atoi(strings.TrimSpace(record[colPeriod]))
	if err != nil {
		return o, fmt.Errorf("bad time_period %q", record[colPeriod])
	}
	o.Period = period

	group, err := strconv.Atoi(strings.TrimSpace(record[colGroup]))
	if err != nil {
		return o, fmt.Errorf("bad group %q", record[colGroup])
	}
	o.Group = group

	outcome, err := strconv.ParseFloat(strings.TrimSpace(record[colOutcome]), 64)
	if err != nil {
		return o, fmt.Errorf("bad outcome %q", record[colOutcome])
	}
	o.Outcome = outcome

	if nCov > 0 {
		o.Covariates = make([]float64, nCov)
		for i := 0; i < nCov; i++ {
			cell := strings.TrimSpace(record[numFixedColumns+i])
			x, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return o, fmt.Errorf("bad covariate %q", record[numFixedColumns+i])
			}
			o.Covariates[i] = x
		}
	}

	if err := o.Validate(); err != nil {
		return o, err
	}
	return o, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
