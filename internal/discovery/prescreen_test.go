package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harborlight-collective/grantscout/internal/model"
)

func ptrFloat64(v float64) *float64 { return &v }

func TestPrescreen(t *testing.T) {
	const floor = 5000.0

	tests := []struct {
		name       string
		ceiling    *float64
		wantReject bool
	}{
		{"no ceiling stated", nil, false},
		{"just below floor", ptrFloat64(4999), true},
		{"exactly at floor", ptrFloat64(5000), false},
		{"well above floor", ptrFloat64(250000), false},
		{"zero ceiling", ptrFloat64(0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := &model.ExtractedFields{Name: "x", AwardCeiling: tt.ceiling}
			rejected, reason := Prescreen(fields, floor)
			assert.Equal(t, tt.wantReject, rejected)
			if tt.wantReject {
				assert.Contains(t, reason, ReasonAwardTooSmall)
			} else {
				assert.Empty(t, reason)
			}
		})
	}
}
