package main

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlight-collective/grantscout/internal/model"
)

func TestResolveTrigger(t *testing.T) {
	const secret = "s3cret"

	tests := []struct {
		name        string
		header      string
		body        string
		wantTrigger model.Trigger
		wantBy      string
		wantErr     bool
	}{
		{"scheduler with valid secret", secret, "", model.TriggerScheduled, "scheduler", false},
		{"scheduler with wrong secret", "wrong", "", "", "", true},
		{"manual with operator", "", `{"operator":"pat"}`, model.TriggerManual, "pat", false},
		{"manual without operator", "", `{}`, "", "", true},
		{"manual with empty body", "", "", "", "", true},
		{"secret header wins over body", secret, `{"operator":"pat"}`, model.TriggerScheduled, "scheduler", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/sync/trigger", strings.NewReader(tt.body))
			if tt.header != "" {
				req.Header.Set("X-Scheduler-Secret", tt.header)
			}

			trigger, by, err := resolveTrigger(req, secret)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTrigger, trigger)
			assert.Equal(t, tt.wantBy, by)
		})
	}
}

func TestResolveTriggerNoSecretConfigured(t *testing.T) {
	// With no secret configured, scheduler-style requests are refused
	// rather than silently accepted.
	req := httptest.NewRequest("POST", "/sync/trigger", nil)
	req.Header.Set("X-Scheduler-Secret", "anything")

	_, _, err := resolveTrigger(req, "")
	require.Error(t, err)
}
