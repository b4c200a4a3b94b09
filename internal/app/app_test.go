package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealthcompany.com/esistatus/internal/config"
	"stealthcompany.com/esistatus/internal/orchestrator"
	"stealthcompany.com/esistatus/internal/statusview"
)

func fakeESI(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/meta/compatibility-dates":
			fmt.Fprint(w, `{"compatibility_dates":["2025-08-26","2025-11-06"]}`)
		case "/meta/status":
			fmt.Fprint(w, `{"routes":[
				{"path":"/alliances","method":"GET","status":"OK"},
				{"path":"/characters/{character_id}","method":"GET","status":"Degraded"}
			]}`)
		case "/meta/openapi.json":
			fmt.Fprint(w, `{"paths":{
				"/alliances":{"get":{"tags":["Alliance"],"operationId":"GetAlliances"}},
				"/characters/{character_id}":{"get":{"tags":["Character"]}}
			}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) config.Config {
	cfg := config.Default()
	cfg.ESIBaseURL = baseURL
	cfg.SnapshotBackend = config.BackendMemory
	cfg.CacheBackend = config.BackendBadger
	return cfg
}

func TestNewRunsPipeline(t *testing.T) {
	srv := fakeESI(t)
	ctx := context.Background()

	a, err := New(ctx, testConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	require.NotNil(t, a.Orchestrator)

	_, err = a.View.Current(ctx)
	assert.ErrorIs(t, err, statusview.ErrNoData)

	res, err := a.Orchestrator.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomePersisted, res.Outcome)
	assert.Equal(t, "2025-11-06", res.CompatibilityDate)

	status, err := a.View.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-11-06", status.CompatibilityDate)
	assert.Equal(t, 2, status.TotalEndpoints)

	counts := status.ESIStatus.Counts()
	assert.Equal(t, 1, counts["OK"])
	assert.Equal(t, 1, counts["Degraded"])
}

func TestReadOnly(t *testing.T) {
	a, err := New(context.Background(), testConfig("https://esi.invalid"), zerolog.Nop(), ReadOnly())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Orchestrator)
	assert.NotNil(t, a.View)
	assert.NotNil(t, a.Handlers())
}

func TestNewUnknownBackends(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{name: "Snapshot backend", modify: func(c *config.Config) { c.SnapshotBackend = "etcd" }},
		{name: "Cache backend", modify: func(c *config.Config) { c.CacheBackend = "memcached" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("https://esi.invalid")
			tt.modify(&cfg)

			_, err := New(context.Background(), cfg, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig("https://esi.invalid"), zerolog.Nop())
	require.NoError(t, err)

	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
