package wire

import "github.com/pretyflaco/openagents-sub005/internal/errs"

// EnumMapping is a total string -> T lookup for wire enum fields. Every
// caller-facing enum conversion in the control plane goes through this
// helper so an unrecognized value always surfaces as a structured
// InvalidEnum(field, value) rather than a zero-valued guess.
type EnumMapping[T any] map[string]T

// Decode looks up value in the mapping, returning errs.KindInvalidEnum
// with the offending field and value on miss.
func (m EnumMapping[T]) Decode(field, value string) (T, error) {
	v, ok := m[value]
	if !ok {
		var zero T
		return zero, errs.Newf(errs.KindInvalidEnum, "wire: invalid value %q for field %q", value, field).
			WithDetails(map[string]any{"field": field, "value": value})
	}
	return v, nil
}

// Encode is the reverse direction: given an encoding table (T -> string)
// built by the caller, look up a wire string for a known value. Panics
// are never used here: an unmapped T is a programmer error, surfaced as
// errs.KindInternal rather than allowed to silently encode wrong.
func Encode[T comparable](encoding map[T]string, field string, value T) (string, error) {
	s, ok := encoding[value]
	if !ok {
		return "", errs.Newf(errs.KindInternal, "wire: no wire encoding registered for %q value", field)
	}
	return s, nil
}
