package odoo

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// OdooString is a custom string type that handles Odoo's dynamic typing.
// Odoo returns `false` (boolean) for empty text fields instead of an empty string.
type OdooString string

// UnmarshalJSON handles dynamic typing from Odoo
func (os *OdooString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*os = OdooString(s)
		return nil
	}

	// Odoo returns false for empty strings
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if !b {
			*os = ""
			return nil
		}
		*os = "true"
		return nil
	}

	return errors.New("OdooString: cannot unmarshal value into string")
}

// String returns native string value
func (os OdooString) String() string {
	return string(os)
}

// Many2One is Odoo's [id, "display name"] pair, or false when unset
type Many2One struct {
	ID   int64
	Name string
}

func (m *Many2One) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*m = Many2One{}
		return nil
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("Many2One: %w", err)
	}
	if len(pair) == 0 {
		*m = Many2One{}
		return nil
	}
	var id float64
	if err := json.Unmarshal(pair[0], &id); err != nil {
		return fmt.Errorf("Many2One id: %w", err)
	}
	m.ID = int64(id)
	if len(pair) > 1 {
		var name OdooString
		if err := json.Unmarshal(pair[1], &name); err != nil {
			return fmt.Errorf("Many2One name: %w", err)
		}
		m.Name = name.String()
	}
	return nil
}

// Set reports whether the relation points at a record
func (m Many2One) Set() bool { return m.ID != 0 }

// odooTimeLayout is the server format of Datetime fields (always UTC)
const odooTimeLayout = "2006-01-02 15:04:05"

// OdooTime parses Odoo Datetime and Date fields; false means unset
type OdooTime struct {
	time.Time
}

func (t *OdooTime) UnmarshalJSON(data []byte) error {
	var s OdooString
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("OdooTime: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{odooTimeLayout, time.DateOnly} {
		if parsed, err := time.ParseInLocation(layout, string(s), time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("OdooTime: unexpected format %q", s)
}

// Ptr returns nil for an unset time
func (t OdooTime) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
