package model

import (
	"testing"

	"github.com/hydronet/aquifer/internal/errors"
)

func validReading() Reading {
	return Reading{
		NodeID:       "n1",
		TimestampMs:  1700000000000,
		FlowRate:     100,
		QualityScore: 1,
	}
}

func TestReadingValidate(t *testing.T) {
	r := validReading()
	if err := r.Validate(); err != nil {
		t.Errorf("valid reading rejected: %v", err)
	}

	cases := map[string]func(*Reading){
		"empty node":       func(r *Reading) { r.NodeID = "" },
		"zero timestamp":   func(r *Reading) { r.TimestampMs = 0 },
		"negative quality": func(r *Reading) { r.QualityScore = -0.1 },
		"quality above 1":  func(r *Reading) { r.QualityScore = 1.1 },
	}
	for name, mutate := range cases {
		r := validReading()
		mutate(&r)
		err := r.Validate()
		if !errors.Is(err, errors.ErrInvalidReading) {
			t.Errorf("%s: error = %v, want invalid reading", name, err)
		}
	}
}

func TestReadingValueSetValueRoundTrip(t *testing.T) {
	var r Reading
	for i, m := range AllMetrics() {
		want := float64(i + 1)
		r.SetValue(m, want)
		if got := r.Value(m); got != want {
			t.Errorf("Value(%s) = %v, want %v", m, got, want)
		}
	}
}

func TestVariantOrigin(t *testing.T) {
	real := Real([]AnomalyRecord{{NodeID: "n1"}})
	if real.IsSynthetic() {
		t.Error("Real variant reported synthetic")
	}

	syn := Synthetic([]AnomalyRecord{}, "store down")
	if !syn.IsSynthetic() {
		t.Error("Synthetic variant not reported synthetic")
	}
	if syn.Reason() != "store down" {
		t.Errorf("Reason = %q, want %q", syn.Reason(), "store down")
	}
}
