package domain

import (
	"errors"
	"testing"
	"time"
)

type kindVisitor struct{}

func (kindVisitor) VisitBoolean(BooleanValue) (Kind, error)     { return KindBoolean, nil }
func (kindVisitor) VisitCount(CountValue) (Kind, error)         { return KindCount, nil }
func (kindVisitor) VisitQuantity(QuantityValue) (Kind, error)   { return KindQuantity, nil }
func (kindVisitor) VisitText(TextValue) (Kind, error)           { return KindText, nil }
func (kindVisitor) VisitCategory(CategoryValue) (Kind, error)   { return KindCategory, nil }
func (kindVisitor) VisitGeometry(GeometryValue) (Kind, error)   { return KindGeometry, nil }
func (kindVisitor) VisitReference(ReferenceValue) (Kind, error) { return KindReference, nil }
func (kindVisitor) VisitComplex(ComplexValue) (Kind, error)     { return KindComplex, nil }
func (kindVisitor) VisitProfile(ProfileValue) (Kind, error)     { return KindProfile, nil }
func (kindVisitor) VisitUnsupported(u UnsupportedValue) (Kind, error) {
	return "", &UnsupportedValueKindError{Kind: u.ValueKind}
}

func TestAcceptDispatchesEveryKind(t *testing.T) {
	values := []Value{
		BooleanValue{Value: true},
		&CountValue{Value: 3},
		QuantityValue{Value: 1.5, Unit: "m"},
		TextValue{Value: "x"},
		CategoryValue{Value: "sand"},
		GeometryValue{Geometry: Point(4326, 1, 2)},
		ReferenceValue{Href: "http://example.org"},
		ComplexValue{},
		&ProfileValue{},
	}
	for _, v := range values {
		got, err := Accept[Kind](v, kindVisitor{})
		if err != nil {
			t.Fatalf("accept %T: %v", v, err)
		}
		if got != v.Kind() {
			t.Fatalf("accept %T: expected %s, got %s", v, v.Kind(), got)
		}
	}
	_, err := Accept[Kind](UnsupportedValue{ValueKind: KindTimeRange}, kindVisitor{})
	if !errors.Is(err, ErrUnsupportedValueKind) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	if _, err := Accept[Kind](nil, kindVisitor{}); KindOf(err) != ErrorKindUnsupportedValue {
		t.Fatalf("expected nil value to be unsupported, got %v", err)
	}
}

func TestKindClassification(t *testing.T) {
	for _, k := range Kinds() {
		parsed, err := ParseKind(string(k))
		if err != nil || parsed != k {
			t.Fatalf("parse %s: %v", k, err)
		}
		if k.IsComposite() && !k.IsSupported() {
			t.Fatalf("composite kind %s must be supported", k)
		}
	}
	if !KindProfile.IsComposite() || KindQuantity.IsComposite() {
		t.Fatalf("unexpected composite classification")
	}
	if KindCoverage.IsSupported() {
		t.Fatalf("coverage must be rejected")
	}
	if _, err := ParseKind("swe:Vector"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestSubValuesPreserveAuthoredOrder(t *testing.T) {
	c := ComplexValue{Fields: []Field{
		{Name: "b", Value: CountValue{Value: 2}},
		{Name: "a", Value: CountValue{Value: 1}},
	}}
	sub := c.SubValues()
	if len(sub) != 2 || sub[0].(CountValue).Value != 2 {
		t.Fatalf("unexpected complex order: %#v", sub)
	}
	p := ProfileValue{Levels: []ProfileLevel{
		{Values: []LevelValue{{Value: TextValue{Value: "l0a"}}, {Value: TextValue{Value: "l0b"}}}},
		{Values: []LevelValue{{Value: TextValue{Value: "l1"}}}},
	}}
	got := p.SubValues()
	want := []string{"l0a", "l0b", "l1"}
	for i, v := range got {
		if v.(TextValue).Value != want[i] {
			t.Fatalf("profile sub value %d: expected %s got %v", i, want[i], v)
		}
	}
}

func TestProfileLevelParameters(t *testing.T) {
	from := &QuantityValue{Value: 0, Unit: "m"}
	to := &QuantityValue{Value: 1, Unit: "m"}
	params := ProfileLevel{Start: from, End: to}.Parameters()
	if len(params) != 2 || params[0].Name != ParamFromDepth || params[1].Name != ParamToDepth {
		t.Fatalf("unexpected range params: %#v", params)
	}
	single := ProfileLevel{Start: from, End: &QuantityValue{Value: 0, Unit: "m"}}.Parameters()
	if len(single) != 1 || single[0].Name != ParamDepth {
		t.Fatalf("unexpected single params: %#v", single)
	}
	height := ProfileLevel{Start: &QuantityValue{Value: 2, Definition: "http://example.org/height"}}.Parameters()
	if len(height) != 1 || height[0].Name != ParamHeight {
		t.Fatalf("unexpected height params: %#v", height)
	}
	if (ProfileLevel{}).Parameters() != nil {
		t.Fatalf("expected no params for unbounded level")
	}
}

func TestPayloadValidate(t *testing.T) {
	v := 1.5
	if err := (Payload{Kind: KindQuantity, Quantity: &v, Unit: &Unit{Symbol: "m"}}).Validate(); err != nil {
		t.Fatalf("valid quantity payload: %v", err)
	}
	text := "x"
	if err := (Payload{Kind: KindQuantity, Quantity: &v, Text: &text}).Validate(); err == nil {
		t.Fatalf("expected extra column error")
	}
	if err := (Payload{Kind: KindText}).Validate(); err == nil {
		t.Fatalf("expected missing column error")
	}
	if err := (Payload{Kind: KindComplex}).Validate(); err != nil {
		t.Fatalf("composite payload carries no columns: %v", err)
	}
	if err := (Payload{Kind: KindXML}).Validate(); !errors.Is(err, ErrUnsupportedValueKind) {
		t.Fatalf("expected unsupported payload, got %v", err)
	}
}

func TestValueOfScalarPayloads(t *testing.T) {
	b, c, q, s, cat, href, title := true, int64(4), 2.5, "hello", "clay", "http://x", "X"
	g := Point(4326, 3, 4)
	cases := []struct {
		payload Payload
		want    Value
	}{
		{Payload{Kind: KindBoolean, Bool: &b}, BooleanValue{Value: true}},
		{Payload{Kind: KindCount, Count: &c}, CountValue{Value: 4}},
		{Payload{Kind: KindQuantity, Quantity: &q, Unit: &Unit{Symbol: "degC"}}, QuantityValue{Value: 2.5, Unit: "degC"}},
		{Payload{Kind: KindText, Text: &s}, TextValue{Value: "hello"}},
		{Payload{Kind: KindCategory, Category: &cat, Codespace: &Codespace{Name: "soil"}}, CategoryValue{Value: "clay", Codespace: "soil"}},
		{Payload{Kind: KindReference, Href: &href, Title: &title}, ReferenceValue{Href: href, Title: title}},
	}
	for _, tc := range cases {
		got, err := ValueOf(Observation{Payload: tc.payload})
		if err != nil {
			t.Fatalf("value of %s: %v", tc.payload.Kind, err)
		}
		if got != tc.want {
			t.Fatalf("value of %s: expected %#v got %#v", tc.payload.Kind, tc.want, got)
		}
	}
	got, err := ValueOf(Observation{Payload: Payload{Kind: KindGeometry, Geometry: &g}})
	if err != nil || !got.(GeometryValue).Geometry.Equal(g) {
		t.Fatalf("geometry value: %v %#v", err, got)
	}
	if _, err := ValueOf(Observation{Payload: Payload{Kind: KindComplex}}); err == nil {
		t.Fatalf("expected composite rejection")
	}
}

func TestGeometryWKTRoundTrip(t *testing.T) {
	line := Geometry{Type: GeometryLineString, SRID: 4326, Coordinates: []Coordinate{{X: 1, Y: 2}, {X: 3.5, Y: -4}}}
	parsed, err := ParseWKT(4326, line.WKT())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(line) {
		t.Fatalf("expected %v got %v", line, parsed)
	}
	poly := Geometry{Type: GeometryPolygon, Coordinates: []Coordinate{{X: 0, Y: 0, Z: 1, HasZ: true}, {X: 1, Y: 0, Z: 1, HasZ: true}, {X: 0, Y: 0, Z: 1, HasZ: true}}}
	if poly.WKT() != "POLYGON Z ((0 0 1, 1 0 1, 0 0 1))" {
		t.Fatalf("unexpected polygon wkt %s", poly.WKT())
	}
	if _, err := ParseWKT(0, "CIRCLE (1 2)"); err == nil {
		t.Fatalf("expected unsupported type")
	}
	swapped := Point(4326, 1, 2).SwapAxes()
	if swapped.Coordinates[0].X != 2 || swapped.Coordinates[0].Y != 1 {
		t.Fatalf("unexpected swap %v", swapped)
	}
}

func TestErrorKinds(t *testing.T) {
	wrapped := WrapStorage("save", errors.New("disk full"))
	if KindOf(wrapped) != ErrorKindStorage {
		t.Fatalf("expected storage kind, got %s", KindOf(wrapped))
	}
	dup := &DuplicateObservationError{DatasetID: 7, Start: time.Unix(0, 0)}
	if WrapStorage("save", dup) != error(dup) {
		t.Fatalf("classified errors must not be rewrapped")
	}
	ot := &InvalidObservationTypeError{Requested: ObservationTypeTruth, Expected: ObservationTypeMeasurement, Procedure: "p", Phenomenon: "temp", Offering: "o"}
	if KindOf(ot) != ErrorKindInvalidObservationType {
		t.Fatalf("unexpected kind %s", KindOf(ot))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors are unclassified")
	}
}

func TestCriteriaBuildersCopy(t *testing.T) {
	base := Criteria{}.Where(Eq(FieldDatasetID, int64(1)))
	a := base.Where(Eq(FieldDeleted, false)).Page(10, 5)
	if len(base.Predicates) != 1 || len(a.Predicates) != 2 || a.Offset != 10 || a.Limit != 5 {
		t.Fatalf("unexpected criteria %+v / %+v", base, a)
	}
	obs := Observation{ID: 3, PhenomenonTime: Instant(time.Unix(5, 0))}
	if v, ok := FieldValue(obs, FieldResultTime); !ok || v != nil {
		t.Fatalf("expected null result time")
	}
	if _, ok := FieldValue(obs, "nope"); ok {
		t.Fatalf("expected unknown field")
	}
}
