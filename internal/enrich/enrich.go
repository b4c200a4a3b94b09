// Package enrich merges the ESI route status document with the OpenAPI
// description, attaching schema tags and operation metadata to every route.
package enrich

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stealthcompany.com/esistatus/internal/esi"
	"stealthcompany.com/esistatus/internal/pathmatch"
)

// DeprecatedTag marks live routes the schema no longer describes
const DeprecatedTag = "Deprecated"

// Variant selects what an unmatched route is tagged with and whether
// operation metadata is copied
type Variant string

const (
	// Extended tags unmatched routes ["Deprecated"] and copies operation metadata
	Extended Variant = "extended"
	// Bare tags unmatched routes [] and copies tags only
	Bare Variant = "bare"
)

// ParseVariant resolves a configured variant name, defaulting to Extended
func ParseVariant(value string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(value))) {
	case "", Extended:
		return Extended, nil
	case Bare:
		return Bare, nil
	default:
		return "", fmt.Errorf("unknown enrichment variant %q", value)
	}
}

// EnrichedRoute is a route status record with its schema classification
type EnrichedRoute struct {
	Path        string   `json:"path"`
	Method      string   `json:"method"`
	Status      string   `json:"status"`
	Tags        []string `json:"tags"`
	Description *string  `json:"description"`
	OperationID *string  `json:"operation_id"`
	Summary     *string  `json:"summary"`

	// Matched is set when non-empty tags were resolved from the schema
	Matched bool `json:"-"`
}

// Enricher combines status and schema documents
type Enricher struct {
	variant Variant
	logger  zerolog.Logger
}

// Option configures an Enricher
type Option func(*Enricher)

// WithLogger sets the enricher logger
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Enricher) {
		e.logger = logger
	}
}

// New creates an Enricher for variant
func New(variant Variant, opts ...Option) *Enricher {
	if variant == "" {
		variant = Extended
	}

	e := &Enricher{variant: variant, logger: log.Logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Variant returns the configured variant
func (e *Enricher) Variant() Variant {
	return e.variant
}

// Enrich returns one EnrichedRoute per status route, in input order. The
// inputs are never modified and the result shares no slices with them.
func (e *Enricher) Enrich(status esi.StatusDocument, schema esi.SchemaDocument) []EnrichedRoute {
	index := schema.Index()
	matcher := pathmatch.New(schema.PathKeys())

	routes := make([]EnrichedRoute, 0, len(status.Routes))
	matched := 0

	for _, r := range status.Routes {
		er := EnrichedRoute{
			Path:   r.Path,
			Method: r.Method,
			Status: r.Status,
		}

		if item, ok := lookup(index, matcher, r.Path); ok {
			op, hasOp := item.Operation(strings.ToLower(r.Method))
			er.Tags = resolveTags(item, op, hasOp)
			if hasOp && e.variant == Extended {
				er.Description = cloneString(op.Description)
				er.OperationID = cloneString(op.OperationID)
				er.Summary = cloneString(op.Summary)
			}
		}

		if len(er.Tags) > 0 {
			er.Matched = true
			matched++
		} else {
			er.Tags = e.defaultTags()
		}

		routes = append(routes, er)
	}

	e.logger.Debug().
		Int("routes", len(routes)).
		Int("matched", matched).
		Str("variant", string(e.variant)).
		Msg("Enriched routes with OpenAPI tags")

	return routes
}

func (e *Enricher) defaultTags() []string {
	if e.variant == Extended {
		return []string{DeprecatedTag}
	}
	return []string{}
}

// lookup finds the path item for a route path, literally first and then
// structurally
func lookup(index map[string]esi.PathItem, matcher *pathmatch.Matcher, path string) (esi.PathItem, bool) {
	if item, ok := index[path]; ok {
		return item, true
	}
	if match, ok := matcher.Match(path); ok {
		return index[match], true
	}
	return nil, false
}

// resolveTags prefers the route's own operation. When that operation is
// missing or has no tags key, the first operation under the path that has
// one is used.
func resolveTags(item esi.PathItem, op esi.Operation, hasOp bool) []string {
	if hasOp && op.HasTags {
		return slices.Clone(op.Tags)
	}
	for _, mo := range item {
		if mo.Operation.HasTags {
			return slices.Clone(mo.Operation.Tags)
		}
	}
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// WorthPersisting reports whether at least one route was classified by the
// schema. An all-default result means the schema came back empty or degraded.
func WorthPersisting(routes []EnrichedRoute) bool {
	for _, r := range routes {
		if r.Matched {
			return true
		}
	}
	return false
}
