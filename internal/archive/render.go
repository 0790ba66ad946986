package archive

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/golang/snappy"

	"obsstore/internal/codec"
	"obsstore/pkg/domain"
)

// Format is an export artifact encoding.
type Format string

const (
	FormatNDJSON Format = "ndjson"
	FormatCSV    Format = "csv"
)

// SnappyEncoding is the content encoding of compressed artifacts.
const SnappyEncoding = "x-snappy-framed"

// Formats lists the supported export formats.
func Formats() []Format { return []Format{FormatNDJSON, FormatCSV} }

// ParseFormat resolves a format name.
func ParseFormat(name string) (Format, error) {
	f := Format(name)
	if _, err := rendererFor(f); err != nil {
		return "", err
	}
	return f, nil
}

type renderer interface {
	header(ds domain.Dataset) error
	row(pair domain.TimeValuePair) error
	flush() error
}

type rendererSpec struct {
	contentType string
	extension   string
	build       func(w io.Writer) renderer
}

func rendererFor(f Format) (rendererSpec, error) {
	switch f {
	case FormatNDJSON:
		return rendererSpec{
			contentType: "application/x-ndjson",
			extension:   "ndjson",
			build:       func(w io.Writer) renderer { return &ndjsonRenderer{enc: json.NewEncoder(w)} },
		}, nil
	case FormatCSV:
		return rendererSpec{
			contentType: "text/csv",
			extension:   "csv",
			build:       func(w io.Writer) renderer { return &csvRenderer{w: csv.NewWriter(w)} },
		}, nil
	default:
		return rendererSpec{}, fmt.Errorf("unsupported export format %q", f)
	}
}

// output renders one format of an export into memory.
type output struct {
	format          Format
	contentType     string
	contentEncoding string
	extension       string
	rows            int

	buf    bytes.Buffer
	snappy *snappy.Writer
	r      renderer
}

func newOutput(f Format, ds domain.Dataset, compress bool) (*output, error) {
	spec, err := rendererFor(f)
	if err != nil {
		return nil, err
	}
	out := &output{format: f, contentType: spec.contentType, extension: spec.extension}
	var w io.Writer = &out.buf
	if compress {
		out.snappy = snappy.NewBufferedWriter(&out.buf)
		out.contentEncoding = SnappyEncoding
		out.extension += ".sz"
		w = out.snappy
	}
	out.r = spec.build(w)
	if err := out.r.header(ds); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *output) write(pair domain.TimeValuePair) error {
	if err := o.r.row(pair); err != nil {
		return err
	}
	o.rows++
	return nil
}

func (o *output) close() ([]byte, error) {
	if err := o.r.flush(); err != nil {
		return nil, err
	}
	if o.snappy != nil {
		if err := o.snappy.Close(); err != nil {
			return nil, fmt.Errorf("snappy: %w", err)
		}
	}
	return o.buf.Bytes(), nil
}

// Record is one NDJSON line of an export.
type Record struct {
	Start time.Time   `json:"start"`
	End   time.Time   `json:"end"`
	Value codec.Value `json:"value"`
}

type ndjsonRenderer struct{ enc *json.Encoder }

func (*ndjsonRenderer) header(domain.Dataset) error { return nil }

func (r *ndjsonRenderer) row(pair domain.TimeValuePair) error {
	v, err := codec.Encode(pair.Value)
	if err != nil {
		return err
	}
	return r.enc.Encode(Record{Start: pair.Time.Start.UTC(), End: pair.Time.End.UTC(), Value: v})
}

func (*ndjsonRenderer) flush() error { return nil }

// CSVHeader is the column row of CSV exports.
var CSVHeader = []string{"phenomenon_time_start", "phenomenon_time_end", "kind", "value", "uom"}

type csvRenderer struct{ w *csv.Writer }

func (r *csvRenderer) header(domain.Dataset) error { return r.w.Write(CSVHeader) }

func (r *csvRenderer) row(pair domain.TimeValuePair) error {
	v, err := codec.Encode(pair.Value)
	if err != nil {
		return err
	}
	cell, err := FormatCell(v)
	if err != nil {
		return err
	}
	return r.w.Write([]string{
		pair.Time.Start.UTC().Format(time.RFC3339Nano),
		pair.Time.End.UTC().Format(time.RFC3339Nano),
		string(v.Kind),
		cell,
		v.Unit,
	})
}

func (r *csvRenderer) flush() error {
	r.w.Flush()
	return r.w.Error()
}

// FormatCell renders scalars directly and composites as their JSON form.
func FormatCell(v codec.Value) (string, error) {
	switch v.Kind {
	case domain.KindBoolean:
		return strconv.FormatBool(*v.Bool), nil
	case domain.KindCount:
		return strconv.FormatInt(*v.Count, 10), nil
	case domain.KindQuantity:
		return strconv.FormatFloat(*v.Number, 'g', -1, 64), nil
	case domain.KindText, domain.KindCategory:
		return *v.Text, nil
	case domain.KindGeometry:
		return v.Geometry.WKT, nil
	case domain.KindReference:
		return v.Href, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
