package pathmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{path: "/alliances/", expected: "/alliances/"},
		{path: "/alliances/{alliance_id}/", expected: "/alliances/{}/"},
		{path: "/characters/{character_id}/mail/{mail_id}", expected: "/characters/{}/mail/{}"},
		{path: "/a/{}/b", expected: "/a/{}/b"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.path))
		})
	}
}

func TestCompile(t *testing.T) {
	re := Compile("/alliances/{alliance_id}/icons.png")

	assert.True(t, re.MatchString("/alliances/123/icons.png"))
	assert.False(t, re.MatchString("/alliances/123/iconsXpng"), "literal dot must be escaped")
	assert.False(t, re.MatchString("/alliances/1/2/icons.png"), "placeholder must not span segments")
	assert.False(t, re.MatchString("/alliances//icons.png"), "placeholder needs at least one character")
	assert.False(t, re.MatchString("/v1/alliances/123/icons.png"), "pattern is anchored")
}

func TestMatch(t *testing.T) {
	schema := []string{
		"/alliances/",
		"/alliances/{alliance_id}/",
		"/characters/{character_id}/",
		"/characters/{character_id}/mail/{mail_id}/",
		"/universe/types/{type_id}/",
	}
	m := New(schema)

	tests := []struct {
		name     string
		path     string
		expected string
		found    bool
	}{
		{name: "Exact literal path", path: "/alliances/", expected: "/alliances/", found: true},
		{name: "Exact templated path", path: "/alliances/{alliance_id}/", expected: "/alliances/{alliance_id}/", found: true},
		{name: "Renamed parameter", path: "/alliances/{id}/", expected: "/alliances/{alliance_id}/", found: true},
		{name: "Concrete value", path: "/alliances/123/", expected: "/alliances/{alliance_id}/", found: true},
		{name: "Two parameters", path: "/characters/9/mail/{mail}/", expected: "/characters/{character_id}/mail/{mail_id}/", found: true},
		{name: "Trailing slash is significant", path: "/alliances/123", found: false},
		{name: "Unknown route", path: "/corporations/1/", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Match(tt.path)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMatchExactIsIdempotent(t *testing.T) {
	schema := []string{"/a/{x}/", "/a/{y}/", "/b/", "/c/{z}/d/"}
	m := New(schema)

	for _, p := range schema {
		got, ok := m.Match(p)
		assert.True(t, ok)
		assert.Equal(t, p, got)
	}
}

func TestMatchAmbiguousBucketUsesDocumentOrder(t *testing.T) {
	m := New([]string{"/a/{first}/", "/a/{second}/"})

	got, ok := m.Match("/a/{other}/")
	assert.True(t, ok)
	assert.Equal(t, "/a/{first}/", got)

	got, ok = m.Match("/a/1/")
	assert.True(t, ok)
	assert.Equal(t, "/a/{first}/", got)
}

func TestMatchFallbackScansAllPaths(t *testing.T) {
	// Concrete paths have no normalized bucket and resolve through the full scan
	m := New([]string{"/markets/prices/", "/markets/{region_id}/orders/"})

	got, ok := m.Match("/markets/10000002/orders/")
	assert.True(t, ok)
	assert.Equal(t, "/markets/{region_id}/orders/", got)

	got, ok = New([]string{"/markets/{region_id}/"}).Match("/markets/prices/")
	assert.True(t, ok)
	assert.Equal(t, "/markets/{region_id}/", got)
}

func TestNewIgnoresDuplicates(t *testing.T) {
	m := New([]string{"/a/", "/a/", "/b/"})
	assert.Equal(t, 2, m.Len())
}

func TestMatchEmptySchema(t *testing.T) {
	got, ok := New(nil).Match("/alliances/123/")
	assert.False(t, ok)
	assert.Empty(t, got)
}
