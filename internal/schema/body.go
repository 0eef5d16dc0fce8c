package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is one business entity. The vault reads only "id" and the fields the
// migrator upgrades; everything else passes through untouched.
type Record = map[string]any

// SalesData is the normalized body of a sales vault.
type SalesData struct {
	Opportunities []Record `json:"opportunities"`

	// Extra keeps top-level keys added by newer releases.
	Extra map[string]json.RawMessage `json:"-"`
}

// WorkforceData is the normalized body of a workforce vault.
type WorkforceData struct {
	Stores         []Record `json:"stores"`
	Employees      []Record `json:"employees"`
	BadgeTemplates []Record `json:"badgeTemplates"`

	// Extra keeps top-level keys added by newer releases.
	Extra map[string]json.RawMessage `json:"-"`
}

// Body is a normalized payload body. Exactly one of Sales and Workforce is
// set, matching Kind.
type Body struct {
	Kind      Kind
	Sales     *SalesData
	Workforce *WorkforceData
}

// NewBody returns an empty normalized body of the given kind.
func NewBody(kind Kind) (Body, error) {
	switch kind {
	case KindSales:
		return Body{Kind: kind, Sales: &SalesData{Opportunities: []Record{}}}, nil
	case KindWorkforce:
		return Body{Kind: kind, Workforce: &WorkforceData{
			Stores:         []Record{},
			Employees:      []Record{},
			BadgeTemplates: []Record{},
		}}, nil
	default:
		return Body{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// ItemCount is the number shown in the vault list: opportunities for sales
// vaults, stores for workforce vaults.
func (b Body) ItemCount() int {
	switch {
	case b.Sales != nil:
		return len(b.Sales.Opportunities)
	case b.Workforce != nil:
		return len(b.Workforce.Stores)
	default:
		return 0
	}
}

// MarshalJSON writes the normalized object for the body's kind.
func (b Body) MarshalJSON() ([]byte, error) {
	var fields map[string]any
	var extra map[string]json.RawMessage

	switch {
	case b.Sales != nil:
		fields = map[string]any{"opportunities": nonNil(b.Sales.Opportunities)}
		extra = b.Sales.Extra
	case b.Workforce != nil:
		fields = map[string]any{
			"stores":         nonNil(b.Workforce.Stores),
			"employees":      nonNil(b.Workforce.Employees),
			"badgeTemplates": nonNil(b.Workforce.BadgeTemplates),
		}
		extra = b.Workforce.Extra
	default:
		return nil, fmt.Errorf("%w: empty body", ErrUnrecognizedShape)
	}

	for k, v := range extra {
		if _, known := fields[k]; !known {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

func nonNil(records []Record) []Record {
	if records == nil {
		return []Record{}
	}
	return records
}

// decodeJSON decodes with json.Number so numeric values survive a
// decode/encode cycle unchanged.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}
