package domain

import (
	"fmt"
	"strings"
	"time"
)

// Parameter is a named scalar attached to an observation.
type Parameter struct {
	Name  string `json:"name"`
	Value Value  `json:"-"`
}

// Payload is the single typed column set of a stored observation. Exactly the
// columns belonging to Kind are populated; composite parents carry no columns.
type Payload struct {
	Kind      Kind       `json:"kind"`
	Bool      *bool      `json:"bool,omitempty"`
	Count     *int64     `json:"count,omitempty"`
	Quantity  *float64   `json:"quantity,omitempty"`
	Unit      *Unit      `json:"unit,omitempty"`
	Text      *string    `json:"text,omitempty"`
	Category  *string    `json:"category,omitempty"`
	Codespace *Codespace `json:"codespace,omitempty"`
	Geometry  *Geometry  `json:"geometry,omitempty"`
	Href      *string    `json:"href,omitempty"`
	Title     *string    `json:"title,omitempty"`
}

// Validate checks that exactly the column set for Kind is populated.
func (p Payload) Validate() error {
	set := map[string]bool{
		"bool":      p.Bool != nil,
		"count":     p.Count != nil,
		"quantity":  p.Quantity != nil,
		"unit":      p.Unit != nil,
		"text":      p.Text != nil,
		"category":  p.Category != nil,
		"codespace": p.Codespace != nil,
		"geometry":  p.Geometry != nil,
		"href":      p.Href != nil,
		"title":     p.Title != nil,
	}
	var required, optional []string
	switch p.Kind {
	case KindBoolean:
		required = []string{"bool"}
	case KindCount:
		required = []string{"count"}
	case KindQuantity:
		required, optional = []string{"quantity"}, []string{"unit"}
	case KindText:
		required = []string{"text"}
	case KindCategory:
		required, optional = []string{"category"}, []string{"codespace"}
	case KindGeometry:
		required = []string{"geometry"}
	case KindReference:
		required, optional = []string{"href"}, []string{"title"}
	case KindComplex, KindProfile:
	case KindQuantityRange, KindTimeRange, KindXML, KindCoverage, KindDataArray, KindTVP,
		KindNilTemplate, KindHrefAttribute:
		return &UnsupportedValueKindError{Kind: p.Kind}
	default:
		return fmt.Errorf("payload kind %q unknown", p.Kind)
	}
	allowed := make(map[string]bool, len(required)+len(optional))
	for _, col := range required {
		if !set[col] {
			return fmt.Errorf("payload %s missing %s column", p.Kind, col)
		}
		allowed[col] = true
	}
	for _, col := range optional {
		allowed[col] = true
	}
	for col, isSet := range set {
		if isSet && !allowed[col] {
			return fmt.Errorf("payload %s must not carry %s column", p.Kind, col)
		}
	}
	return nil
}

// Observation is a stored observation record.
type Observation struct {
	ID             int64       `json:"id"`
	Identifier     string      `json:"identifier,omitempty"`
	Name           string      `json:"name,omitempty"`
	Description    string      `json:"description,omitempty"`
	PhenomenonTime TimePeriod  `json:"phenomenon_time"`
	ResultTime     *time.Time  `json:"result_time,omitempty"`
	ValidTime      *TimePeriod `json:"valid_time,omitempty"`
	Geometry       *Geometry   `json:"geometry,omitempty"`
	Parameters     []Parameter `json:"parameters,omitempty"`

	DatasetID    int64 `json:"dataset_id"`
	FeatureID    int64 `json:"feature_id"`
	PhenomenonID int64 `json:"phenomenon_id"`
	ProcedureID  int64 `json:"procedure_id"`
	OfferingID   int64 `json:"offering_id"`

	Parent      bool    `json:"parent"`
	Child       bool    `json:"child"`
	ParentID    *int64  `json:"parent_id,omitempty"`
	ChildIDs    []int64 `json:"child_ids,omitempty"`
	Position    int     `json:"position"`
	HiddenChild bool    `json:"hidden_child"`
	Published   bool    `json:"published"`
	Deleted     bool    `json:"deleted"`

	Payload Payload `json:"payload"`
}

// Clone returns a deep copy of the record.
func (o Observation) Clone() Observation {
	out := o
	if o.ResultTime != nil {
		rt := *o.ResultTime
		out.ResultTime = &rt
	}
	if o.ValidTime != nil {
		vt := *o.ValidTime
		out.ValidTime = &vt
	}
	if o.Geometry != nil {
		g := o.Geometry.Clone()
		out.Geometry = &g
	}
	if o.ParentID != nil {
		pid := *o.ParentID
		out.ParentID = &pid
	}
	out.Parameters = append([]Parameter(nil), o.Parameters...)
	out.ChildIDs = append([]int64(nil), o.ChildIDs...)
	if o.Payload.Geometry != nil {
		g := o.Payload.Geometry.Clone()
		out.Payload.Geometry = &g
	}
	return out
}

// Parameter returns the named parameter value.
func (o Observation) Parameter(name string) (Value, bool) {
	for _, p := range o.Parameters {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// ObservationSpec is an observation as submitted by a caller.
type ObservationSpec struct {
	Identifier       string
	Name             string
	Description      string
	PhenomenonTime   TimePeriod
	ResultTime       *time.Time
	ValidTime        *TimePeriod
	Parameters       []Parameter
	SamplingGeometry *Geometry
	Value            Value
}

// Clone returns a copy whose parameter slice can be modified independently.
func (s ObservationSpec) Clone() ObservationSpec {
	out := s
	out.Parameters = append([]Parameter(nil), s.Parameters...)
	return out
}

// Profile level parameter names.
const (
	ParamDepth      = "depth"
	ParamFromDepth  = "fromDepth"
	ParamToDepth    = "toDepth"
	ParamHeight     = "height"
	ParamFromHeight = "fromHeight"
	ParamToHeight   = "toHeight"
	// ParamLevel carries the zero-based level index of profile children.
	ParamLevel = "level"
	// ParamLevels carries the level count on a profile parent, so levels
	// without values survive a read.
	ParamLevels = "levels"
)

// Parameters returns the depth or height parameters describing the level.
func (l ProfileLevel) Parameters() []Parameter {
	height := isHeight(l.Start) || isHeight(l.End)
	single, from, to := ParamDepth, ParamFromDepth, ParamToDepth
	if height {
		single, from, to = ParamHeight, ParamFromHeight, ParamToHeight
	}
	switch {
	case l.Start != nil && l.End != nil && *l.Start != *l.End:
		return []Parameter{{Name: from, Value: *l.Start}, {Name: to, Value: *l.End}}
	case l.Start != nil:
		return []Parameter{{Name: single, Value: *l.Start}}
	case l.End != nil:
		return []Parameter{{Name: single, Value: *l.End}}
	}
	return nil
}

func isHeight(q *QuantityValue) bool {
	return q != nil && strings.Contains(strings.ToLower(q.Definition), "height")
}

// ValueOf rebuilds the value of a scalar record. Composite parents need their
// children and are rejected here.
func ValueOf(o Observation) (Value, error) {
	p := o.Payload
	switch p.Kind {
	case KindBoolean:
		if p.Bool == nil {
			return nil, fmt.Errorf("observation %d: boolean payload missing", o.ID)
		}
		return BooleanValue{Value: *p.Bool}, nil
	case KindCount:
		if p.Count == nil {
			return nil, fmt.Errorf("observation %d: count payload missing", o.ID)
		}
		return CountValue{Value: *p.Count}, nil
	case KindQuantity:
		if p.Quantity == nil {
			return nil, fmt.Errorf("observation %d: quantity payload missing", o.ID)
		}
		q := QuantityValue{Value: *p.Quantity}
		if p.Unit != nil {
			q.Unit = p.Unit.Symbol
		}
		return q, nil
	case KindText:
		if p.Text == nil {
			return nil, fmt.Errorf("observation %d: text payload missing", o.ID)
		}
		return TextValue{Value: *p.Text}, nil
	case KindCategory:
		if p.Category == nil {
			return nil, fmt.Errorf("observation %d: category payload missing", o.ID)
		}
		c := CategoryValue{Value: *p.Category}
		if p.Codespace != nil {
			c.Codespace = p.Codespace.Name
		}
		return c, nil
	case KindGeometry:
		if p.Geometry == nil {
			return nil, fmt.Errorf("observation %d: geometry payload missing", o.ID)
		}
		return GeometryValue{Geometry: p.Geometry.Clone()}, nil
	case KindReference:
		if p.Href == nil {
			return nil, fmt.Errorf("observation %d: reference payload missing", o.ID)
		}
		r := ReferenceValue{Href: *p.Href}
		if p.Title != nil {
			r.Title = *p.Title
		}
		return r, nil
	case KindComplex, KindProfile:
		return nil, fmt.Errorf("observation %d: %s value needs its child records", o.ID, p.Kind)
	case KindQuantityRange, KindTimeRange, KindXML, KindCoverage, KindDataArray, KindTVP,
		KindNilTemplate, KindHrefAttribute:
		return nil, &UnsupportedValueKindError{Kind: p.Kind}
	}
	return nil, fmt.Errorf("observation %d: unknown payload kind %q", o.ID, p.Kind)
}
