// Package secret wraps sensitive configuration values so that they
// never leak through logging, debug formatting, or serialisation by
// accident. Disclosure is only possible through Expose, which marks the
// call site as the deliberate point where the raw value crosses a
// boundary (an HTTP header, a decryption input, a container env var).
package secret

import "encoding/json"

const redacted = "***REDACTED***"

// String holds a sensitive string. The zero value is an empty secret.
type String struct {
	value string
}

// New wraps v as a secret.
func New(v string) String {
	return String{value: v}
}

// Expose returns the underlying string. Callers are the intended
// disclosure points; do not pass the result to anything that logs,
// prints, or serialises it.
func (s String) Expose() string {
	return s.value
}

// IsEmpty reports whether the wrapped value is the empty string,
// without disclosing it.
func (s String) IsEmpty() bool {
	return s.value == ""
}

func (s String) String() string {
	return redacted
}

func (s String) GoString() string {
	return redacted
}

// MarshalJSON always redacts; secrets are never written to disk or the
// wire through default serialisation.
func (s String) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// UnmarshalJSON accepts a plain JSON string and wraps it.
func (s *String) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	s.value = v
	return nil
}

// MarshalYAML always redacts.
func (s String) MarshalYAML() (interface{}, error) {
	return redacted, nil
}

// UnmarshalYAML accepts a plain YAML scalar and wraps it.
func (s *String) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v string
	if err := unmarshal(&v); err != nil {
		return err
	}
	s.value = v
	return nil
}

// Equal compares the underlying values of two secrets.
func (s String) Equal(other String) bool {
	return s.value == other.value
}
