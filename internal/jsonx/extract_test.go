package jsonx

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, nil},
		{"prose wrapped", `Here is the result:
{"a":1}
Let me know if you need more.`, `{"a":1}`, nil},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`, nil},
		{"braces inside strings", `{"a":"}{ not structure"}`, `{"a":"}{ not structure"}`, nil},
		{"escaped quote in string", `{"a":"say \"hi\" {now}"}`, `{"a":"say \"hi\" {now}"}`, nil},
		{"trailing prose after object", `{"a":1} and then some`, `{"a":1}`, nil},
		{"no object at all", `I could not process that record.`, "", ErrNoObject},
		{"unclosed brace", `{"a":1`, "", ErrMalformed},
		{"balanced but invalid", `{"a":}`, "", ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractObject(tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, eris.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeObject(t *testing.T) {
	var out struct {
		Name  string `json:"name"`
		Score int    `json:"score"`
	}

	err := DecodeObject(`The extraction follows. {"name":"Rural Health","score":7}`, &out)
	require.NoError(t, err)
	assert.Equal(t, "Rural Health", out.Name)
	assert.Equal(t, 7, out.Score)
}

func TestDecodeObjectTypeMismatch(t *testing.T) {
	var out struct {
		Score int `json:"score"`
	}

	err := DecodeObject(`{"score":"seven"}`, &out)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformed))
}
