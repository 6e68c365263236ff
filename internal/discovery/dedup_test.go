package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterNew(t *testing.T) {
	existing := map[string]struct{}{
		"100": {},
		"300": {},
	}

	tests := []struct {
		name    string
		fetched []string
		want    []string
	}{
		{"all new", []string{"1", "2"}, []string{"1", "2"}},
		{"known dropped", []string{"100", "2", "300"}, []string{"2"}},
		{"intra-fetch dup dropped", []string{"1", "1", "2"}, []string{"1", "2"}},
		{"empty ids dropped", []string{"", "1", ""}, []string{"1"}},
		{"order preserved", []string{"9", "3", "7"}, []string{"9", "3", "7"}},
		{"nothing fetched", nil, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterNew(tt.fetched, existing))
		})
	}
}
