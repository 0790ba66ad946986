package ingest

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"obsstore/internal/codec"
	"obsstore/internal/core"
	"obsstore/pkg/domain"
)

const sensorDoc = `{
  "procedure": {"identifier": "urn:procedure:ctd", "name": "CTD"},
  "phenomena": [{"identifier": "urn:phenomenon:temperature"}],
  "offerings": [{"identifier": "urn:offering:ocean"}],
  "feature": {"identifier": "urn:feature:buoy", "geometry": {"wkt": "POINT (7.1 52.3)", "srid": 4326}},
  "observation_type": "measurement"
}`

func TestSensorRegistration(t *testing.T) {
	doc, err := DecodeSensor(strings.NewReader(sensorDoc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reg, err := doc.Registration()
	if err != nil {
		t.Fatalf("registration: %v", err)
	}
	if reg.ObservationType != domain.ObservationTypeMeasurement || reg.Procedure.Identifier != "urn:procedure:ctd" {
		t.Fatalf("unexpected registration %+v", reg)
	}
	if reg.Feature == nil || reg.Feature.Geometry == nil || reg.Feature.Geometry.SRID != 4326 {
		t.Fatalf("expected feature geometry, got %+v", reg.Feature)
	}
	svc := core.NewInMemoryService()
	datasets, err := svc.RegisterSensor(context.Background(), reg)
	if err != nil || len(datasets) != 1 {
		t.Fatalf("register: %v (%d datasets)", err, len(datasets))
	}
	if datasets[0].Duplicated {
		t.Fatalf("expected a plain series, got %+v", datasets[0])
	}
}

func TestSensorRegistrationDuplicated(t *testing.T) {
	doc, err := DecodeSensor(strings.NewReader(strings.Replace(sensorDoc, `"observation_type"`, `"duplicated": true, "observation_type"`, 1)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reg, err := doc.Registration()
	if err != nil || !reg.Duplicated {
		t.Fatalf("expected duplicated registration, got %+v (%v)", reg, err)
	}
	datasets, err := core.NewInMemoryService().RegisterSensor(context.Background(), reg)
	if err != nil || len(datasets) != 1 || !datasets[0].Duplicated {
		t.Fatalf("expected a duplicated series, got %+v (%v)", datasets, err)
	}
}

func TestDecodeSensorRejectsUnknownFields(t *testing.T) {
	if _, err := DecodeSensor(strings.NewReader(`{"procedure": {}, "colour": "red"}`)); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestParseObservationType(t *testing.T) {
	cases := []struct {
		name string
		want domain.ObservationType
	}{
		{"", ""},
		{"Profile", domain.ObservationTypeProfile},
		{"geology_log", domain.ObservationTypeGeologyLog},
		{string(domain.ObservationTypeText), domain.ObservationTypeText},
	}
	for _, tc := range cases {
		got, err := ParseObservationType(tc.name)
		if err != nil || got != tc.want {
			t.Fatalf("parse %q: got %q (%v)", tc.name, got, err)
		}
	}
	if _, err := ParseObservationType("spectrum"); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestObservationRequest(t *testing.T) {
	docs := `
{"datasets": [3, 4], "identifier": "obs-1", "phenomenon_time": {"instant": "2024-06-01T14:00:00+02:00"},
 "result_time": "2024-06-01T12:05:00Z",
 "parameters": [{"name": "depth", "value": {"kind": "quantity", "number": 5, "uom": "m"}}],
 "sampling_geometry": {"wkt": "POINT (1 2)"},
 "result": {"kind": "quantity", "number": 12.5, "uom": "Cel"}}
{"datasets": [3], "phenomenon_time": {"start": "2024-06-01T12:00:00Z", "end": "2024-06-01T13:00:00Z"},
 "feature": {"identifier": "urn:feature:ship"},
 "result": {"kind": "complex", "fields": [{"name": "ok", "definition": "urn:phenomenon:flag", "value": {"kind": "boolean", "bool": true}}]}}
`
	var reqs []core.PersistRequest
	for doc, err := range Observations(strings.NewReader(docs)) {
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		req, err := doc.Request()
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		reqs = append(reqs, req)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected two requests, got %d", len(reqs))
	}
	first := reqs[0]
	noon := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if !reflect.DeepEqual(first.DatasetIDs, []int64{3, 4}) || first.Observation.Identifier != "obs-1" {
		t.Fatalf("unexpected request %+v", first)
	}
	if pt := first.Observation.PhenomenonTime; !pt.Start.Equal(noon) || !pt.IsInstant() {
		t.Fatalf("expected UTC instant, got %+v", first.Observation.PhenomenonTime)
	}
	if first.Observation.ResultTime == nil || !first.Observation.ResultTime.Equal(noon.Add(5*time.Minute)) {
		t.Fatalf("unexpected result time %v", first.Observation.ResultTime)
	}
	if want := (domain.QuantityValue{Value: 12.5, Unit: "Cel"}); first.Observation.Value != want {
		t.Fatalf("unexpected value %+v", first.Observation.Value)
	}
	if len(first.Observation.Parameters) != 1 || first.Observation.Parameters[0].Value != (domain.QuantityValue{Value: 5, Unit: "m"}) {
		t.Fatalf("unexpected parameters %+v", first.Observation.Parameters)
	}
	if first.Observation.SamplingGeometry == nil || first.Feature != nil {
		t.Fatalf("unexpected geometry or feature %+v", first)
	}

	second := reqs[1]
	if second.Observation.PhenomenonTime.IsInstant() || second.Feature == nil || second.Feature.Identifier != "urn:feature:ship" {
		t.Fatalf("unexpected second request %+v", second)
	}
	if _, ok := second.Observation.Value.(domain.ComplexValue); !ok {
		t.Fatalf("expected complex value, got %T", second.Observation.Value)
	}
}

func TestObservationsAcceptsArray(t *testing.T) {
	n := 0
	for doc, err := range Observations(strings.NewReader(`  [{"datasets": [1], "phenomenon_time": {"start": "2024-01-01T00:00:00Z"}, "result": {"kind": "count", "count": 3}}]`)) {
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		req, err := doc.Request()
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if req.Observation.Value != (domain.CountValue{Value: 3}) {
			t.Fatalf("unexpected value %+v", req.Observation.Value)
		}
		n++
	}
	if n != 1 {
		t.Fatalf("expected one document, got %d", n)
	}
	for range Observations(strings.NewReader("   ")) {
		t.Fatalf("expected no documents from blank input")
	}
}

func TestObservationsStopsAtMalformedDocument(t *testing.T) {
	var errs int
	for _, err := range Observations(strings.NewReader(`{"datasets": [1]}` + "\n" + `{"datasets": `)) {
		if err != nil {
			errs++
		}
	}
	if errs != 1 {
		t.Fatalf("expected one decode error, got %d", errs)
	}
}

func TestObservationRequestValidation(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	cases := map[string]Observation{
		"no datasets":   {PhenomenonTime: &Period{Start: &start}},
		"no result":     {Datasets: []int64{1}, PhenomenonTime: &Period{Start: &start}},
		"no time":       {Datasets: []int64{1}, Result: countResult()},
		"empty period":  {Datasets: []int64{1}, PhenomenonTime: &Period{}, Result: countResult()},
		"inverted":      {Datasets: []int64{1}, PhenomenonTime: &Period{Start: &start, End: &end}, Result: countResult()},
		"bad parameter": {Datasets: []int64{1}, PhenomenonTime: &Period{Start: &start}, Result: countResult(), Parameters: []Parameter{{Value: *countResult()}}},
		"bad feature":   {Datasets: []int64{1}, PhenomenonTime: &Period{Start: &start}, Result: countResult(), Feature: &Feature{}},
	}
	for name, doc := range cases {
		if _, err := doc.Request(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func countResult() *codec.Value {
	n := int64(1)
	return &codec.Value{Kind: domain.KindCount, Count: &n}
}
