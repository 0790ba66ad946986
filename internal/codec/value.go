// Package codec defines the JSON wire form of observation values. The form
// is tagged by kind and is shared by the ingest decoder, the archive exporter
// and the SQL parameter columns.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"obsstore/pkg/domain"
)

// Value is the JSON envelope of one observation value.
type Value struct {
	Kind       domain.Kind        `json:"kind"`
	Bool       *bool              `json:"bool,omitempty"`
	Count      *int64             `json:"count,omitempty"`
	Number     *float64           `json:"number,omitempty"`
	Text       *string            `json:"text,omitempty"`
	Unit       string             `json:"uom,omitempty"`
	Definition string             `json:"definition,omitempty"`
	Codespace  string             `json:"codespace,omitempty"`
	Href       string             `json:"href,omitempty"`
	Title      string             `json:"title,omitempty"`
	Geometry   *Geometry          `json:"geometry,omitempty"`
	Fields     []Field            `json:"fields,omitempty"`
	Levels     []Level            `json:"levels,omitempty"`
	Time       *domain.TimePeriod `json:"phenomenon_time,omitempty"`
	Raw        string             `json:"raw,omitempty"`
}

// Geometry carries a WKT string and its SRID.
type Geometry struct {
	WKT  string `json:"wkt"`
	SRID int    `json:"srid,omitempty"`
}

// Field is one member of a complex value.
type Field struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
	Value      Value  `json:"value"`
}

// Level is one profile level.
type Level struct {
	Start    *Value             `json:"start,omitempty"`
	End      *Value             `json:"end,omitempty"`
	Location *Geometry          `json:"location,omitempty"`
	Time     *domain.TimePeriod `json:"phenomenon_time,omitempty"`
	Values   []LevelValue       `json:"values"`
}

// LevelValue is one value of a profile level.
type LevelValue struct {
	Definition string `json:"definition,omitempty"`
	Value      Value  `json:"value"`
}

// EncodeGeometry converts a geometry to its wire form.
func EncodeGeometry(g domain.Geometry) *Geometry {
	return &Geometry{WKT: g.WKT(), SRID: g.SRID}
}

// DecodeGeometry parses the wire form of a geometry.
func DecodeGeometry(g *Geometry) (*domain.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	out, err := domain.ParseWKT(g.SRID, g.WKT)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Encode converts v to its wire form.
func Encode(v domain.Value) (Value, error) {
	return domain.Accept[Value](v, encoder{})
}

// Marshal encodes v as JSON.
func Marshal(v domain.Value) ([]byte, error) {
	w, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// Unmarshal decodes a JSON value.
func Unmarshal(data []byte) (domain.Value, error) {
	var w Value
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return Decode(w)
}

type encoder struct{}

func (encoder) VisitBoolean(b domain.BooleanValue) (Value, error) {
	return Value{Kind: domain.KindBoolean, Bool: &b.Value}, nil
}

func (encoder) VisitCount(c domain.CountValue) (Value, error) {
	return Value{Kind: domain.KindCount, Count: &c.Value}, nil
}

func (encoder) VisitQuantity(q domain.QuantityValue) (Value, error) {
	return Value{Kind: domain.KindQuantity, Number: &q.Value, Unit: q.Unit, Definition: q.Definition}, nil
}

func (encoder) VisitText(t domain.TextValue) (Value, error) {
	return Value{Kind: domain.KindText, Text: &t.Value}, nil
}

func (encoder) VisitCategory(c domain.CategoryValue) (Value, error) {
	return Value{Kind: domain.KindCategory, Text: &c.Value, Codespace: c.Codespace}, nil
}

func (encoder) VisitGeometry(g domain.GeometryValue) (Value, error) {
	return Value{Kind: domain.KindGeometry, Geometry: EncodeGeometry(g.Geometry)}, nil
}

func (encoder) VisitReference(r domain.ReferenceValue) (Value, error) {
	return Value{Kind: domain.KindReference, Href: r.Href, Title: r.Title}, nil
}

func (e encoder) VisitComplex(c domain.ComplexValue) (Value, error) {
	out := Value{Kind: domain.KindComplex, Fields: make([]Field, 0, len(c.Fields))}
	for _, f := range c.Fields {
		w, err := Encode(f.Value)
		if err != nil {
			return Value{}, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out.Fields = append(out.Fields, Field{Name: f.Name, Definition: f.Definition, Value: w})
	}
	return out, nil
}

func (e encoder) VisitProfile(p domain.ProfileValue) (Value, error) {
	out := Value{Kind: domain.KindProfile, Time: p.PhenomenonTime, Levels: make([]Level, 0, len(p.Levels))}
	if p.Geometry != nil {
		out.Geometry = EncodeGeometry(*p.Geometry)
	}
	for i, l := range p.Levels {
		level := Level{Time: l.PhenomenonTime, Values: make([]LevelValue, 0, len(l.Values))}
		if l.Start != nil {
			w, _ := e.VisitQuantity(*l.Start)
			level.Start = &w
		}
		if l.End != nil {
			w, _ := e.VisitQuantity(*l.End)
			level.End = &w
		}
		if l.Location != nil {
			level.Location = EncodeGeometry(*l.Location)
		}
		for _, lv := range l.Values {
			w, err := Encode(lv.Value)
			if err != nil {
				return Value{}, fmt.Errorf("level %d: %w", i, err)
			}
			level.Values = append(level.Values, LevelValue{Definition: lv.Definition, Value: w})
		}
		out.Levels = append(out.Levels, level)
	}
	return out, nil
}

func (encoder) VisitUnsupported(u domain.UnsupportedValue) (Value, error) {
	return Value{Kind: u.ValueKind, Raw: u.Raw}, nil
}

// Decode converts a wire value back to the domain model. Recognised but
// unsupported kinds decode to domain.UnsupportedValue so the persister can
// reject them.
func Decode(w Value) (domain.Value, error) {
	switch w.Kind {
	case domain.KindBoolean:
		if w.Bool == nil {
			return nil, errors.New("boolean value missing bool")
		}
		return domain.BooleanValue{Value: *w.Bool}, nil
	case domain.KindCount:
		if w.Count == nil {
			return nil, errors.New("count value missing count")
		}
		return domain.CountValue{Value: *w.Count}, nil
	case domain.KindQuantity:
		if w.Number == nil {
			return nil, errors.New("quantity value missing number")
		}
		return domain.QuantityValue{Value: *w.Number, Unit: w.Unit, Definition: w.Definition}, nil
	case domain.KindText:
		if w.Text == nil {
			return nil, errors.New("text value missing text")
		}
		return domain.TextValue{Value: *w.Text}, nil
	case domain.KindCategory:
		if w.Text == nil {
			return nil, errors.New("category value missing text")
		}
		return domain.CategoryValue{Value: *w.Text, Codespace: w.Codespace}, nil
	case domain.KindGeometry:
		g, err := DecodeGeometry(w.Geometry)
		if err != nil {
			return nil, err
		}
		if g == nil {
			return nil, errors.New("geometry value missing geometry")
		}
		return domain.GeometryValue{Geometry: *g}, nil
	case domain.KindReference:
		if w.Href == "" {
			return nil, errors.New("reference value missing href")
		}
		return domain.ReferenceValue{Href: w.Href, Title: w.Title}, nil
	case domain.KindComplex:
		return decodeComplex(w)
	case domain.KindProfile:
		return decodeProfile(w)
	case "":
		return nil, errors.New("value kind missing")
	default:
		if _, err := domain.ParseKind(string(w.Kind)); err != nil {
			return nil, err
		}
		return domain.UnsupportedValue{ValueKind: w.Kind, Raw: w.Raw}, nil
	}
}

func decodeComplex(w Value) (domain.Value, error) {
	out := domain.ComplexValue{Fields: make([]domain.Field, 0, len(w.Fields))}
	for _, f := range w.Fields {
		v, err := Decode(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out.Fields = append(out.Fields, domain.Field{Name: f.Name, Definition: f.Definition, Value: v})
	}
	return out, nil
}

func decodeProfile(w Value) (domain.Value, error) {
	out := domain.ProfileValue{PhenomenonTime: w.Time, Levels: make([]domain.ProfileLevel, 0, len(w.Levels))}
	g, err := DecodeGeometry(w.Geometry)
	if err != nil {
		return nil, err
	}
	out.Geometry = g
	for i, l := range w.Levels {
		level := domain.ProfileLevel{PhenomenonTime: l.Time}
		if level.Start, err = decodeBound(l.Start); err != nil {
			return nil, fmt.Errorf("level %d start: %w", i, err)
		}
		if level.End, err = decodeBound(l.End); err != nil {
			return nil, fmt.Errorf("level %d end: %w", i, err)
		}
		if level.Location, err = DecodeGeometry(l.Location); err != nil {
			return nil, fmt.Errorf("level %d location: %w", i, err)
		}
		for _, lv := range l.Values {
			v, err := Decode(lv.Value)
			if err != nil {
				return nil, fmt.Errorf("level %d: %w", i, err)
			}
			level.Values = append(level.Values, domain.LevelValue{Definition: lv.Definition, Value: v})
		}
		out.Levels = append(out.Levels, level)
	}
	return out, nil
}

func decodeBound(w *Value) (*domain.QuantityValue, error) {
	if w == nil {
		return nil, nil
	}
	v, err := Decode(*w)
	if err != nil {
		return nil, err
	}
	q, ok := v.(domain.QuantityValue)
	if !ok {
		return nil, fmt.Errorf("level bound must be a quantity, got %s", v.Kind())
	}
	return &q, nil
}
