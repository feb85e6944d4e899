// Package batch runs many generation requests as one job and reads those
// requests from request sheets.
package batch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/distill-cli/internal/model"
)

// DefaultQuantity applies to sheet rows that leave quantity blank.
const DefaultQuantity = 100

// Column names recognized in request sheets. Only keywords is required.
const (
	colKeywords  = "keywords"
	colDataType  = "data_type"
	colQuantity  = "quantity"
	colThreshold = "quality_threshold"
	colStrategy  = "strategy"
	colContext   = "context"
)

var columnAliases = map[string]string{
	"keyword":   colKeywords,
	"type":      colDataType,
	"datatype":  colDataType,
	"count":     colQuantity,
	"threshold": colThreshold,
	"quality":   colThreshold,
}

// ReadFile loads requests from path. The file extension picks the parser:
// .csv, .xlsx, .json, .yaml or .yml.
func ReadFile(ctx context.Context, path string) ([]model.GenerationRequest, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "batch: open csv")
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f)
	case ".xlsx":
		return ReadXLSX(path)
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "batch: read json")
		}
		var reqs model.Requests
		if err := json.Unmarshal(data, &reqs); err != nil {
			return nil, eris.Wrap(err, "batch: decode json")
		}
		return checkAll(reqs)
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "batch: read yaml")
		}
		return decodeYAML(data)
	default:
		return nil, eris.Errorf("batch: unsupported request file %q", filepath.Base(path))
	}
}

// ReadCSV parses a request sheet. The first row names the columns.
func ReadCSV(ctx context.Context, r io.Reader) ([]model.GenerationRequest, error) {
	rowCh, errCh := streamCSV(ctx, r)

	var (
		cols columns
		reqs []model.GenerationRequest
		line int
	)
	for row := range rowCh {
		line++
		if cols == nil {
			c, err := headerColumns(row)
			if err != nil {
				drain(rowCh)
				return nil, err
			}
			cols = c
			continue
		}
		if blank(row) {
			continue
		}
		req, err := cols.request(row)
		if err != nil {
			drain(rowCh)
			return nil, eris.Wrapf(err, "batch: row %d", line)
		}
		reqs = append(reqs, req)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if cols == nil {
		return nil, eris.New("batch: request sheet is empty")
	}
	return nonEmpty(reqs)
}

// ReadXLSX parses the first sheet of an XLSX workbook as a request sheet.
func ReadXLSX(path string) ([]model.GenerationRequest, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("batch: workbook has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.New("batch: request sheet is empty")
	}

	cols, err := headerColumns(rowStrings(sheet.Rows[0]))
	if err != nil {
		return nil, err
	}

	var reqs []model.GenerationRequest
	for i, row := range sheet.Rows[1:] {
		cells := rowStrings(row)
		if blank(cells) {
			continue
		}
		req, err := cols.request(cells)
		if err != nil {
			return nil, eris.Wrapf(err, "batch: row %d", i+2)
		}
		reqs = append(reqs, req)
	}
	return nonEmpty(reqs)
}

// streamCSV sends parsed records on the row channel. Both channels are
// closed when the reader is exhausted or ctx is cancelled.
func streamCSV(ctx context.Context, r io.Reader) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.Comment = '#'
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "batch: csv cancelled")
				return
			}
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "batch: read csv row")
				return
			}
			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "batch: csv cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func drain(ch <-chan []string) {
	go func() {
		for range ch {
		}
	}()
}

func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// columns maps a normalized column name to its index.
type columns map[string]int

func headerColumns(header []string) (columns, error) {
	cols := make(columns, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		name = strings.ReplaceAll(name, " ", "_")
		if alias, ok := columnAliases[name]; ok {
			name = alias
		}
		if name == "" {
			continue
		}
		if _, dup := cols[name]; dup {
			return nil, eris.Errorf("batch: duplicate column %q", name)
		}
		cols[name] = i
	}
	if _, ok := cols[colKeywords]; !ok {
		return nil, eris.New("batch: request sheet has no keywords column")
	}
	return cols, nil
}

func (c columns) get(row []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (c columns) request(row []string) (model.GenerationRequest, error) {
	req := model.NewRequest()
	req.Keywords = SplitKeywords(c.get(row, colKeywords))
	req.DataType = model.DataType(strings.ToLower(c.get(row, colDataType)))
	req.Quantity = DefaultQuantity
	req.Strategy = model.DistillationStrategy(strings.ToLower(c.get(row, colStrategy)))
	req.Context = c.get(row, colContext)
	if req.DataType == "" {
		req.DataType = model.DataTypeQA
	}
	if v := c.get(row, colQuantity); v != "" {
		// Spreadsheet cells may render integers as "10.0".
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f != float64(int(f)) {
			return req, &model.RequestError{Field: colQuantity, Reason: fmt.Sprintf("%q is not a whole number", v)}
		}
		req.Quantity = int(f)
	}
	if v := c.get(row, colThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, &model.RequestError{Field: colThreshold, Reason: fmt.Sprintf("%q is not a number", v)}
		}
		req.QualityThreshold = f
	}
	return req, req.Validate()
}

// SplitKeywords splits a cell on semicolons or commas and drops blanks.
func SplitKeywords(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// yamlRequest mirrors model.GenerationRequest with snake_case yaml keys.
type yamlRequest struct {
	Keywords         []string `yaml:"keywords"`
	DataType         string   `yaml:"data_type"`
	Quantity         int      `yaml:"quantity"`
	QualityThreshold *float64 `yaml:"quality_threshold"`
	Strategy         string   `yaml:"strategy"`
	Context          string   `yaml:"context"`
}

func decodeYAML(data []byte) ([]model.GenerationRequest, error) {
	var doc struct {
		Requests []yamlRequest `yaml:"requests"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "batch: decode yaml")
	}
	reqs := make([]model.GenerationRequest, len(doc.Requests))
	for i, y := range doc.Requests {
		reqs[i] = model.NewRequest()
		reqs[i].Keywords = y.Keywords
		reqs[i].DataType = model.DataType(y.DataType)
		reqs[i].Quantity = y.Quantity
		reqs[i].Strategy = model.DistillationStrategy(y.Strategy)
		reqs[i].Context = y.Context
		if y.QualityThreshold != nil {
			reqs[i].QualityThreshold = *y.QualityThreshold
		}
	}
	return checkAll(reqs)
}

func checkAll(reqs []model.GenerationRequest) ([]model.GenerationRequest, error) {
	for i, r := range reqs {
		if err := r.Validate(); err != nil {
			return nil, eris.Wrapf(err, "batch: request %d", i+1)
		}
	}
	return nonEmpty(reqs)
}

func nonEmpty(reqs []model.GenerationRequest) ([]model.GenerationRequest, error) {
	if len(reqs) == 0 {
		return nil, eris.New("batch: no requests found")
	}
	return reqs, nil
}
