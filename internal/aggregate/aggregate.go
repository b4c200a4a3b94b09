// Package aggregate groups enriched routes into per-health-state buckets for
// display.
package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"stealthcompany.com/esistatus/internal/enrich"
	"stealthcompany.com/esistatus/internal/health"
)

// UntaggedGroup holds routes that carry no tags at all
const UntaggedGroup = "Untagged"

// ErrUnknownHealthState is returned for a route status outside the configured state set
var ErrUnknownHealthState = errors.New("unknown health state")

// EndpointSummary is the display form of one route
type EndpointSummary struct {
	Method      string  `json:"method"`
	Path        string  `json:"path"`
	OperationID *string `json:"operation_id,omitempty"`
	Summary     *string `json:"summary,omitempty"`
	Description *string `json:"description,omitempty"`
}

// TagGroup is the endpoints of a bucket sharing a first tag
type TagGroup struct {
	Tag       string            `json:"tag"`
	Endpoints []EndpointSummary `json:"endpoints"`
}

// Bucket is the aggregation for one health state
type Bucket struct {
	Status     string     `json:"status"`
	Endpoints  []TagGroup `json:"endpoints"`
	Count      int        `json:"count"`
	Percentage string     `json:"percentage"`
}

// Report holds one bucket per recognized state, in display order
type Report struct {
	Buckets []Bucket `json:"buckets"`
	Total   int      `json:"total"`
}

// Bucket returns the bucket for state
func (r Report) Bucket(state string) (Bucket, bool) {
	for _, b := range r.Buckets {
		if b.Status == state {
			return b, true
		}
	}
	return Bucket{}, false
}

// Counts returns the route count per state
func (r Report) Counts() map[string]int {
	counts := make(map[string]int, len(r.Buckets))
	for _, b := range r.Buckets {
		counts[b.Status] = b.Count
	}
	return counts
}

// Aggregate buckets routes by status and groups each bucket by the route's
// first tag only. Every state gets a bucket even when empty. A route whose
// status is not in states fails the whole aggregation.
func Aggregate(routes []enrich.EnrichedRoute, states health.StateSet) (Report, error) {
	groups := make([]map[string][]EndpointSummary, len(states))
	counts := make([]int, len(states))
	for i := range states {
		groups[i] = make(map[string][]EndpointSummary)
	}

	for _, r := range routes {
		idx := states.Index(r.Status)
		if idx < 0 {
			return Report{}, fmt.Errorf("%w: %q on %s %s (known: %s)",
				ErrUnknownHealthState, r.Status, strings.ToUpper(r.Method), r.Path, states)
		}

		tag := UntaggedGroup
		if len(r.Tags) > 0 {
			tag = r.Tags[0]
		}

		groups[idx][tag] = append(groups[idx][tag], EndpointSummary{
			Method:      strings.ToUpper(r.Method),
			Path:        r.Path,
			OperationID: r.OperationID,
			Summary:     r.Summary,
			Description: r.Description,
		})
		counts[idx]++
	}

	total := len(routes)
	report := Report{
		Buckets: make([]Bucket, 0, len(states)),
		Total:   total,
	}

	for i, state := range states {
		tags := make([]string, 0, len(groups[i]))
		for tag := range groups[i] {
			tags = append(tags, tag)
		}
		sort.Strings(tags)

		endpoints := make([]TagGroup, 0, len(tags))
		for _, tag := range tags {
			endpoints = append(endpoints, TagGroup{Tag: tag, Endpoints: groups[i][tag]})
		}

		report.Buckets = append(report.Buckets, Bucket{
			Status:     state,
			Endpoints:  endpoints,
			Count:      counts[i],
			Percentage: Percentage(counts[i], total),
		})
	}

	return report, nil
}

// Percentage formats count/total as "NN.NN%". 0/0 is "0.00%".
func Percentage(count, total int) string {
	if total == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(count)/float64(total)*100)
}
