package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealthcompany.com/esistatus/internal/orchestrator"
)

func TestReport(t *testing.T) {
	tests := []struct {
		name     string
		res      orchestrator.Result
		err      error
		code     int
		level    string
		expected map[string]any
	}{
		{
			name: "Persisted",
			res: orchestrator.Result{
				RunID:             "run-1",
				Outcome:           orchestrator.OutcomePersisted,
				CompatibilityDate: "2025-11-06",
				Routes:            3,
			},
			code:  0,
			level: "info",
			expected: map[string]any{
				"run_id":             "run-1",
				"outcome":            "persisted",
				"compatibility_date": "2025-11-06",
				"routes":             float64(3),
			},
		},
		{
			name: "Aborted",
			res: orchestrator.Result{
				RunID:       "run-2",
				Outcome:     orchestrator.OutcomeAborted,
				FailedState: orchestrator.FetchingDocuments,
			},
			err:   errors.New("boom"),
			code:  1,
			level: "error",
			expected: map[string]any{
				"run_id":       "run-2",
				"failed_state": orchestrator.FetchingDocuments.String(),
				"error":        "boom",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			code := report(zerolog.New(&buf), tt.res, tt.err)
			assert.Equal(t, tt.code, code)

			var event map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
			assert.Equal(t, tt.level, event["level"])
			for key, want := range tt.expected {
				assert.Equal(t, want, event[key], key)
			}
		})
	}
}
