// Package export renders a completed distillation run as a downloadable
// dataset in one of several training-data formats.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/distill-cli/internal/model"
)

// Format names an export encoding.
type Format string

const (
	FormatJSON        Format = "json"
	FormatJSONL       Format = "jsonl"
	FormatCSV         Format = "csv"
	FormatHuggingFace Format = "huggingface"
	FormatOpenAI      Format = "openai_jsonl"
	FormatYAML        Format = "yaml"
	FormatXLSX        Format = "xlsx"
)

// Formats lists every supported format in display order.
var Formats = []Format{
	FormatJSON, FormatJSONL, FormatCSV, FormatHuggingFace, FormatOpenAI, FormatYAML, FormatXLSX,
}

// datasetVersion is stamped into Hugging Face dataset info.
const datasetVersion = "1.0.0"

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", eris.Errorf("export: unsupported format %q", s)
}

// Options tunes an export.
type Options struct {
	IncludeMetadata bool
}

// Record is one exported item.
type Record struct {
	ID       string          `json:"id" yaml:"id"`
	Content  string          `json:"content" yaml:"content"`
	Quality  float64         `json:"quality_score" yaml:"quality_score"`
	Source   model.Source    `json:"source" yaml:"source"`
	Metadata *RecordMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// RecordMetadata carries request context alongside an item.
type RecordMetadata struct {
	Keywords  []string       `json:"keywords" yaml:"keywords"`
	DataType  model.DataType `json:"data_type" yaml:"data_type"`
	ModelUsed string         `json:"model_used" yaml:"model_used"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
}

// Records flattens a run's items into export records.
func Records(run *model.Run, opts Options) ([]Record, error) {
	if run == nil || run.Response == nil {
		return nil, eris.New("export: run has no generated data")
	}
	var meta *RecordMetadata
	if opts.IncludeMetadata {
		meta = &RecordMetadata{
			Keywords:  run.Request.Keywords,
			DataType:  run.Request.DataType,
			ModelUsed: run.Response.ModelUsed,
			CreatedAt: run.CreatedAt,
		}
	}
	out := make([]Record, len(run.Response.Data))
	for i, item := range run.Response.Data {
		out[i] = Record{
			ID:       "item_" + strconv.Itoa(i+1),
			Content:  item.Content,
			Quality:  item.Quality,
			Source:   item.Source,
			Metadata: meta,
		}
	}
	return out, nil
}

// Filename returns the download name for a run exported as format.
func Filename(runID string, format Format) string {
	base := "dataset_" + runID
	switch format {
	case FormatHuggingFace:
		return base + "_hf.json"
	case FormatOpenAI:
		return base + "_openai.jsonl"
	default:
		return base + "." + string(format)
	}
}

// ContentType returns the MIME type served for format.
func ContentType(format Format) string {
	switch format {
	case FormatJSON, FormatHuggingFace:
		return "application/json"
	case FormatJSONL, FormatOpenAI:
		return "application/x-ndjson"
	case FormatCSV:
		return "text/csv"
	case FormatYAML:
		return "application/yaml"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Write encodes run to w in the given format.
func Write(w io.Writer, run *model.Run, format Format, opts Options) error {
	records, err := Records(run, opts)
	if err != nil {
		return err
	}

	switch format {
	case FormatJSON:
		return writeJSON(w, records)
	case FormatJSONL:
		return writeJSONL(w, records)
	case FormatCSV:
		return writeCSV(w, records, opts)
	case FormatHuggingFace:
		return writeHuggingFace(w, run, records)
	case FormatOpenAI:
		return writeOpenAI(w, run, records)
	case FormatYAML:
		return writeYAML(w, records)
	case FormatXLSX:
		return writeXLSX(w, records, opts)
	default:
		return eris.Errorf("export: unsupported format %q", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "export: encode json")
	}
	return nil
}

func writeJSONL[T any](w io.Writer, rows []T) error {
	enc := json.NewEncoder(w)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "export: encode jsonl row")
		}
	}
	return nil
}

// tableHeader returns the flat column layout shared by csv and xlsx.
func tableHeader(opts Options) []string {
	cols := []string{"id", "content", "quality_score", "source"}
	if opts.IncludeMetadata {
		cols = append(cols, "meta_keywords", "meta_data_type", "meta_model_used", "meta_created_at")
	}
	return cols
}

func tableRow(r Record) []string {
	row := []string{
		r.ID,
		r.Content,
		strconv.FormatFloat(r.Quality, 'f', 4, 64),
		string(r.Source),
	}
	if r.Metadata != nil {
		row = append(row,
			strings.Join(r.Metadata.Keywords, ";"),
			string(r.Metadata.DataType),
			r.Metadata.ModelUsed,
			r.Metadata.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	return row
}

func writeCSV(w io.Writer, records []Record, opts Options) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tableHeader(opts)); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range records {
		if err := cw.Write(tableRow(r)); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func writeXLSX(w io.Writer, records []Record, opts Options) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("dataset")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range tableHeader(opts) {
		header.AddCell().SetString(col)
	}
	for _, r := range records {
		row := sheet.AddRow()
		for j, v := range tableRow(r) {
			cell := row.AddCell()
			if j == 2 {
				cell.SetFloat(r.Quality)
				continue
			}
			cell.SetString(v)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

func writeYAML(w io.Writer, records []Record) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(records); err != nil {
		return eris.Wrap(err, "export: encode yaml")
	}
	return eris.Wrap(enc.Close(), "export: close yaml encoder")
}

type hfDataset struct {
	Data []Record `json:"data"`
	Info hfInfo   `json:"info"`
}

type hfInfo struct {
	Description string            `json:"description"`
	Version     string            `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	Features    map[string]string `json:"features"`
}

func writeHuggingFace(w io.Writer, run *model.Run, records []Record) error {
	return writeJSON(w, hfDataset{
		Data: records,
		Info: hfInfo{
			Description: fmt.Sprintf("Synthetic %s dataset %s (%s)",
				run.Request.DataType, run.ID, strings.Join(run.Request.Keywords, ", ")),
			Version:   datasetVersion,
			CreatedAt: run.CreatedAt,
			Features: map[string]string{
				"content":       "string",
				"quality_score": "float",
				"source":        "string",
			},
		},
	})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatExample struct {
	Messages []chatMessage `json:"messages"`
}

func writeOpenAI(w io.Writer, run *model.Run, records []Record) error {
	fallback := fmt.Sprintf("Generate a %s example about %s.",
		run.Request.DataType, strings.Join(run.Request.Keywords, ", "))

	rows := make([]chatExample, len(records))
	for i, r := range records {
		prompt, answer, ok := SplitPair(r.Content)
		if !ok {
			prompt, answer = fallback, r.Content
		}
		rows[i] = chatExample{Messages: []chatMessage{
			{Role: "user", Content: prompt},
			{Role: "assistant", Content: answer},
		}}
	}
	return writeJSONL(w, rows)
}

var (
	promptPrefixes = []string{"question:", "q:", "input:"}
	answerPrefixes = []string{"answer:", "a:", "output:"}
)

// SplitPair splits content written as a labelled prompt followed by a
// labelled answer, e.g. "Question: ...\nAnswer: ...".
func SplitPair(content string) (prompt, answer string, ok bool) {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) < 2 {
		return "", "", false
	}
	first, hasPrompt := cutPrefixFold(lines[0], promptPrefixes)
	if !hasPrompt {
		return "", "", false
	}
	for i := 1; i < len(lines); i++ {
		rest, hasAnswer := cutPrefixFold(lines[i], answerPrefixes)
		if !hasAnswer {
			continue
		}
		prompt = strings.TrimSpace(strings.Join(append([]string{first}, lines[1:i]...), "\n"))
		answer = strings.TrimSpace(strings.Join(append([]string{rest}, lines[i+1:]...), "\n"))
		return prompt, answer, prompt != "" && answer != ""
	}
	return "", "", false
}

func cutPrefixFold(line string, prefixes []string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	lower := strings.ToLower(trimmed)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(trimmed[len(p):]), true
		}
	}
	return "", false
}
