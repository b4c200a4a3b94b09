package esi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CompatibilityDateLayout is the calendar date format ESI uses for compatibility dates
const CompatibilityDateLayout = "2006-01-02"

// compatibilityDateInput also accepts dates without zero padding
const compatibilityDateInput = "2006-1-2"

var (
	// ErrMissingField is returned when a required response field is absent
	ErrMissingField = errors.New("missing required field")
	// ErrNoCompatibilityDate is returned when no candidate date parses
	ErrNoCompatibilityDate = errors.New("no valid compatibility date")
)

// CompatibilityDates is the /meta/compatibility-dates response. Candidates are
// kept raw so non-string entries can be discarded instead of failing the decode.
type CompatibilityDates struct {
	Dates []json.RawMessage `json:"compatibility_dates"`
}

// UnmarshalJSON requires the compatibility_dates array to be present
func (c *CompatibilityDates) UnmarshalJSON(data []byte) error {
	var aux struct {
		Dates *[]json.RawMessage `json:"compatibility_dates"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Dates == nil {
		return fmt.Errorf("%w: compatibility_dates", ErrMissingField)
	}

	c.Dates = *aux.Dates
	return nil
}

// Latest returns the most recent parseable date in ISO-8601 form. Entries that
// are not strings or not valid dates are skipped.
func (c CompatibilityDates) Latest() (string, error) {
	var latest time.Time
	found := false

	for _, raw := range c.Dates {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		d, err := time.Parse(compatibilityDateInput, s)
		if err != nil {
			continue
		}
		if !found || d.After(latest) {
			latest = d
			found = true
		}
	}

	if !found {
		return "", ErrNoCompatibilityDate
	}

	return latest.Format(CompatibilityDateLayout), nil
}

// RouteStatus is one entry of the /meta/status response
type RouteStatus struct {
	Path   string `json:"path"`
	Method string `json:"method"`
	Status string `json:"status"`
}

// StatusDocument is the /meta/status response
type StatusDocument struct {
	Routes []RouteStatus `json:"routes"`
}

// UnmarshalJSON requires routes, and path/method/status on every route
func (d *StatusDocument) UnmarshalJSON(data []byte) error {
	var aux struct {
		Routes *[]struct {
			Path   *string `json:"path"`
			Method *string `json:"method"`
			Status *string `json:"status"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Routes == nil {
		return fmt.Errorf("%w: routes", ErrMissingField)
	}

	routes := make([]RouteStatus, 0, len(*aux.Routes))
	for i, r := range *aux.Routes {
		switch {
		case r.Path == nil:
			return fmt.Errorf("%w: routes[%d].path", ErrMissingField, i)
		case r.Method == nil:
			return fmt.Errorf("%w: routes[%d].method", ErrMissingField, i)
		case r.Status == nil:
			return fmt.Errorf("%w: routes[%d].status", ErrMissingField, i)
		}
		routes = append(routes, RouteStatus{Path: *r.Path, Method: *r.Method, Status: *r.Status})
	}

	d.Routes = routes
	return nil
}

// Operation is the subset of an OpenAPI operation object the enricher uses
type Operation struct {
	Tags        []string
	HasTags     bool // the tags key was present, even if empty
	Description *string
	OperationID *string
	Summary     *string
}

type operationJSON struct {
	Tags        *[]string `json:"tags,omitempty"`
	Description *string   `json:"description,omitempty"`
	OperationID *string   `json:"operationId,omitempty"`
	Summary     *string   `json:"summary,omitempty"`
}

// UnmarshalJSON records whether tags was present. A null tags value counts
// as present and empty.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var aux struct {
		Tags        json.RawMessage `json:"tags"`
		Description *string         `json:"description"`
		OperationID *string         `json:"operationId"`
		Summary     *string         `json:"summary"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*o = Operation{
		Description: aux.Description,
		OperationID: aux.OperationID,
		Summary:     aux.Summary,
	}
	if aux.Tags != nil {
		o.HasTags = true
		if err := json.Unmarshal(aux.Tags, &o.Tags); err != nil {
			return fmt.Errorf("tags: %w", err)
		}
		if o.Tags == nil {
			o.Tags = []string{}
		}
	}
	return nil
}

// MarshalJSON writes tags only when they were present on decode
func (o Operation) MarshalJSON() ([]byte, error) {
	aux := operationJSON{
		Description: o.Description,
		OperationID: o.OperationID,
		Summary:     o.Summary,
	}
	if o.HasTags || len(o.Tags) > 0 {
		tags := o.Tags
		if tags == nil {
			tags = []string{}
		}
		aux.Tags = &tags
	}
	return json.Marshal(aux)
}

// MethodOperation pairs a path item key with its operation
type MethodOperation struct {
	Method    string
	Operation Operation
}

// PathItem is an OpenAPI path item in document order. Only object-valued
// entries are kept; parameters, $ref strings and similar are dropped.
type PathItem []MethodOperation

// Operation returns the operation stored under method
func (p PathItem) Operation(method string) (Operation, bool) {
	for _, mo := range p {
		if mo.Method == method {
			return mo.Operation, true
		}
	}
	return Operation{}, false
}

// UnmarshalJSON decodes the path item preserving key order
func (p *PathItem) UnmarshalJSON(data []byte) error {
	var item PathItem
	err := decodeOrderedObject(data, func(key string, value json.RawMessage) error {
		if !isJSONObject(value) {
			return nil
		}
		var op Operation
		if err := json.Unmarshal(value, &op); err != nil {
			return fmt.Errorf("operation %s: %w", key, err)
		}
		item = append(item, MethodOperation{Method: key, Operation: op})
		return nil
	})
	if err != nil {
		return err
	}

	*p = item
	return nil
}

// MarshalJSON encodes the path item preserving key order
func (p PathItem) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, mo := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, mo.Method, mo.Operation); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// PathEntry is one key of the OpenAPI paths object
type PathEntry struct {
	Path string
	Item PathItem
}

// SchemaDocument is the /meta/openapi.json response, reduced to its paths
// object in document order
type SchemaDocument struct {
	Paths []PathEntry
}

// PathKeys returns the schema paths in document order
func (d SchemaDocument) PathKeys() []string {
	keys := make([]string, 0, len(d.Paths))
	for _, e := range d.Paths {
		keys = append(keys, e.Path)
	}
	return keys
}

// Index returns the path items keyed by path. A repeated path keeps its last
// definition, as a JSON object would.
func (d SchemaDocument) Index() map[string]PathItem {
	index := make(map[string]PathItem, len(d.Paths))
	for _, e := range d.Paths {
		index[e.Path] = e.Item
	}
	return index
}

// UnmarshalJSON requires a paths object
func (d *SchemaDocument) UnmarshalJSON(data []byte) error {
	var aux struct {
		Paths json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Paths) == 0 || bytes.Equal(bytes.TrimSpace(aux.Paths), []byte("null")) {
		return fmt.Errorf("%w: paths", ErrMissingField)
	}

	var entries []PathEntry
	err := decodeOrderedObject(aux.Paths, func(key string, value json.RawMessage) error {
		var item PathItem
		if err := json.Unmarshal(value, &item); err != nil {
			return fmt.Errorf("paths[%q]: %w", key, err)
		}
		entries = append(entries, PathEntry{Path: key, Item: item})
		return nil
	})
	if err != nil {
		return err
	}

	d.Paths = entries
	return nil
}

// MarshalJSON encodes {"paths": {...}} preserving path order
func (d SchemaDocument) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"paths":{`)
	for i, e := range d.Paths {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, e.Path, e.Item); err != nil {
			return nil, err
		}
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// decodeOrderedObject walks a JSON object calling fn for each member in order
func decodeOrderedObject(data []byte, fn func(key string, value json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", keyTok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

func writeMember(buf *bytes.Buffer, key string, value any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
