// Package secret wraps credential material so it cannot leak through
// logging, formatting, or JSON encoding. The only way to read the value
// is an explicit Expose call at the point of serialization.
package secret

// Secret holds a sensitive string. The zero value is an empty secret.
type Secret struct {
	value []byte
}

// New wraps a string as a Secret.
func New(v string) Secret {
	return Secret{value: []byte(v)}
}

// Expose returns the underlying value. Call sites should be the single
// point where the secret is written to a header or request body.
func (s Secret) Expose() string {
	return string(s.value)
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return len(s.value) == 0
}

// Zero wipes the underlying bytes.
func (s *Secret) Zero() {
	for i := range s.value {
		s.value[i] = 0
	}
	s.value = nil
}

// String implements fmt.Stringer and always redacts.
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString keeps %#v output redacted as well.
func (s Secret) GoString() string {
	return "secret.Secret{}"
}

// MarshalJSON refuses to serialize the value.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// UnmarshalText lets config decoding populate secrets directly.
func (s *Secret) UnmarshalText(text []byte) error {
	s.value = append([]byte(nil), text...)
	return nil
}
