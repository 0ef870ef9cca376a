package schema

import "errors"

// ErrMalformedSchema covers every parse-time failure: unparseable IDL
// text, a circular complex reference, a constant name that isn't
// uppercase, or a ROS 1 time/duration primitive appearing under a
// ROS 2 dialect.
var ErrMalformedSchema = errors.New("schema: malformed schema")

type MalformedSchemaError struct {
	Reason string
}

func (e *MalformedSchemaError) Error() string {
	return "schema: malformed schema: " + e.Reason
}

func (e *MalformedSchemaError) Is(target error) bool {
	return target == ErrMalformedSchema
}

func malformed(reason string) error {
	return &MalformedSchemaError{Reason: reason}
}

// ErrUnresolvedComplex is returned when a Complex field type does not
// resolve in the schema's sub-schema map.
var ErrUnresolvedComplex = errors.New("schema: unresolved complex type reference")
