package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the decrypted content of a vault.
type Payload struct {
	VaultName  string
	CreatedAt  time.Time
	ModifiedAt time.Time
	Kind       Kind
	Body       Body
}

// payloadJSON is the serialized form written by this release.
type payloadJSON struct {
	VaultName  string    `json:"vaultName"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Kind       Kind      `json:"kind"`
	Body       Body      `json:"body"`
}

// payloadIn accepts both current field names and the names used by the
// browser-era application.
type payloadIn struct {
	VaultName  string          `json:"vaultName"`
	CreatedAt  *time.Time      `json:"createdAt"`
	ModifiedAt *time.Time      `json:"modifiedAt"`
	Kind       Kind            `json:"kind"`
	Body       json.RawMessage `json:"body"`

	FileName     string          `json:"fileName"`
	CreatedDate  *time.Time      `json:"createdDate"`
	LastModified *time.Time      `json:"lastModified"`
	CRMType      Kind            `json:"crmType"`
	Data         json.RawMessage `json:"data"`
}

// NewPayload returns an empty payload of kind for a new vault.
func NewPayload(name string, kind Kind, now time.Time) (*Payload, error) {
	body, err := NewBody(kind)
	if err != nil {
		return nil, err
	}
	return &Payload{
		VaultName:  name,
		CreatedAt:  now,
		ModifiedAt: now,
		Kind:       kind,
		Body:       body,
	}, nil
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(payloadJSON{
		VaultName:  p.VaultName,
		CreatedAt:  p.CreatedAt,
		ModifiedAt: p.ModifiedAt,
		Kind:       p.Kind,
		Body:       p.Body,
	})
}

// DecodePayload parses a decrypted payload and migrates its body to the
// normalized shape. A payload without a kind is a sales payload.
func DecodePayload(data []byte) (*Payload, error) {
	var in payloadIn
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedShape, err)
	}

	p := &Payload{VaultName: firstNonEmpty(in.VaultName, in.FileName)}

	p.Kind = in.Kind
	if p.Kind == "" {
		p.Kind = in.CRMType
	}
	if p.Kind == "" {
		p.Kind = DefaultKind
	}
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
	}

	if t := firstTime(in.CreatedAt, in.CreatedDate); t != nil {
		p.CreatedAt = *t
	}
	if t := firstTime(in.ModifiedAt, in.LastModified); t != nil {
		p.ModifiedAt = *t
	} else {
		p.ModifiedAt = p.CreatedAt
	}

	raw := in.Body
	if raw == nil {
		raw = in.Data
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: payload has no body", ErrUnrecognizedShape)
	}

	body, err := Migrate(raw, p.Kind)
	if err != nil {
		return nil, err
	}
	p.Body = body
	return p, nil
}

// UnmarshalJSON implements json.Unmarshaler via DecodePayload.
func (p *Payload) UnmarshalJSON(data []byte) error {
	decoded, err := DecodePayload(data)
	if err != nil {
		return err
	}
	*p = *decoded
	return nil
}

// ItemCount is the count recorded in the registry for this payload.
func (p *Payload) ItemCount() int {
	return p.Body.ItemCount()
}

// Clone returns a deep copy via a JSON round trip, so a caller can keep
// editing its payload while a copy is being saved.
func (p *Payload) Clone() (*Payload, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return DecodePayload(data)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstTime(values ...*time.Time) *time.Time {
	for _, v := range values {
		if v != nil && !v.IsZero() {
			return v
		}
	}
	return nil
}
