package core

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Payload is the version-specific body of a blueprint document. Each schema
// major version has exactly one payload type.
type Payload interface {
	SchemaMajor() int
}

// Document is the versioned blueprint snapshot stored in blueprint_data.
// On the wire it is an envelope {"version", "schema", "payload"} where schema
// selects the payload type; decoding an unknown schema fails with
// ErrVersionIncompatible instead of degrading to an untyped map.
type Document struct {
	Version string
	Payload Payload
}

// PayloadV1 is schema 1: pages, tools, feature flags and the tenant section.
type PayloadV1 struct {
	Pages        Pages        `json:"pages"`
	Tools        Tools        `json:"tools"`
	FeatureFlags FeatureFlags `json:"featureFlags"`
	Tenant       TenantInfo   `json:"tenant"`
}

func (PayloadV1) SchemaMajor() int { return 1 }

type Page struct {
	Slug     string    `json:"slug"`
	Title    string    `json:"title"`
	Layout   string    `json:"layout,omitempty"`
	Locked   bool      `json:"locked,omitempty"`
	Sections []Section `json:"sections,omitempty"`
}

type Section struct {
	Type  string            `json:"type"`
	Props map[string]string `json:"props,omitempty"`
}

type Tool struct {
	Key     string            `json:"key"`
	Version string            `json:"version,omitempty"`
	Enabled bool              `json:"enabled"`
	Config  map[string]string `json:"config,omitempty"`
}

// TenantInfo holds the tenant-scoped identity of the exported instance.
// Tenant-agnostic exports carry placeholders here.
type TenantInfo struct {
	TenantID   string `json:"tenantId,omitempty"`
	InstanceID string `json:"instanceId,omitempty"`
	Name       string `json:"name,omitempty"`
}

type documentEnvelope struct {
	Version string          `json:"version"`
	Schema  int             `json:"schema"`
	Payload json.RawMessage `json:"payload"`
}

// V1 returns the schema 1 payload if that is what the document holds.
func (d Document) V1() (*PayloadV1, bool) {
	switch p := d.Payload.(type) {
	case *PayloadV1:
		return p, p != nil
	case PayloadV1:
		return &p, true
	default:
		return nil, false
	}
}

func (d Document) MarshalJSON() ([]byte, error) {
	if d.Payload == nil {
		return nil, fmt.Errorf("blueprint document %q has no payload", d.Version)
	}
	major, ok := MajorVersion(d.Version)
	if !ok {
		return nil, fmt.Errorf("invalid blueprint version %q", d.Version)
	}
	if major != d.Payload.SchemaMajor() {
		return nil, fmt.Errorf("blueprint version %q does not match payload schema %d", d.Version, d.Payload.SchemaMajor())
	}
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(documentEnvelope{Version: d.Version, Schema: major, Payload: payload})
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var env documentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	major, ok := MajorVersion(env.Version)
	if !ok {
		return Validation("blueprint.Decode", "invalid blueprint version %q", env.Version)
	}
	if major != env.Schema {
		return Validation("blueprint.Decode", "version %q does not match schema %d", env.Version, env.Schema)
	}

	switch env.Schema {
	case 1:
		var p PayloadV1
		dec := json.NewDecoder(bytes.NewReader(env.Payload))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Validation("blueprint.Decode", "schema 1 payload: %v", err)
		}
		d.Version = env.Version
		d.Payload = &p
		return nil
	default:
		return VersionIncompatible("blueprint.Decode", "unsupported blueprint schema %d", env.Schema)
	}
}

func (d Document) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *Document) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	return scanJSON(value, d)
}
