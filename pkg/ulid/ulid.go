// Package ulid provides a thin, JSON- and storage-friendly wrapper around
// oklog's ULID implementation, used for archive entry ids. Bill record
// ids are the ones the CSP returns, not ULIDs.
package ulid

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULID is a lexicographically sortable unique identifier.
type ULID struct {
	ulid.ULID
}

// New generates a new ULID stamped with the current time.
func New() ULID {
	return ULID{ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)}
}

// NewFromTime generates a new ULID stamped with the given time.
func NewFromTime(t time.Time) ULID {
	return ULID{ulid.MustNew(ulid.Timestamp(t), rand.Reader)}
}

// Parse parses a ULID string.
func Parse(s string) (ULID, error) {
	parsed, err := ulid.Parse(s)
	if err != nil {
		return ULID{}, err
	}
	return ULID{parsed}, nil
}

// String returns the canonical string form.
func (u ULID) String() string {
	return u.ULID.String()
}

// IsZero reports whether u is the zero-value ULID.
func (u ULID) IsZero() bool {
	return u.ULID == ulid.ULID{}
}

// MarshalJSON renders the ULID as a JSON string.
func (u ULID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + u.String() + `"`), nil
}

// MarshalYAML renders the ULID as a YAML string.
func (u ULID) MarshalYAML() (interface{}, error) {
	return u.String(), nil
}

// UnmarshalYAML parses a YAML string into a ULID.
func (u *ULID) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		*u = ULID{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// UnmarshalJSON parses a JSON string into a ULID.
func (u *ULID) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		*u = ULID{}
		return nil
	}
	s := string(data[1 : len(data)-1])
	if s == "" {
		*u = ULID{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
