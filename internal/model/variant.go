package model

// Origin distinguishes data observed from the network from data the engine
// synthesized as a placeholder.
type Origin int

const (
	// OriginReal marks data derived from actual readings.
	OriginReal Origin = iota

	// OriginSynthetic marks data produced by a deterministic fallback
	// generator.
	OriginSynthetic
)

// String returns the string representation of the origin.
func (o Origin) String() string {
	if o == OriginSynthetic {
		return "synthetic"
	}
	return "real"
}

// Variant tags a payload with its origin so callers must branch
// deliberately instead of inspecting a boolean buried in the payload.
type Variant[T any] struct {
	data   T
	origin Origin
	reason string
}

// Real wraps data observed from the network.
func Real[T any](data T) Variant[T] {
	return Variant[T]{data: data, origin: OriginReal}
}

// Synthetic wraps generated placeholder data with the reason it was used.
func Synthetic[T any](data T, reason string) Variant[T] {
	return Variant[T]{data: data, origin: OriginSynthetic, reason: reason}
}

// Data returns the payload.
func (v Variant[T]) Data() T { return v.data }

// Origin returns the payload's origin tag.
func (v Variant[T]) Origin() Origin { return v.origin }

// IsSynthetic returns true for synthetic payloads.
func (v Variant[T]) IsSynthetic() bool { return v.origin == OriginSynthetic }

// Reason returns why synthetic data was produced; empty for real data.
func (v Variant[T]) Reason() string { return v.reason }

// Detection is the tagged result of an anomaly detection call.
type Detection = Variant[[]AnomalyRecord]
