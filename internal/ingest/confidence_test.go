package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfidence(t *testing.T) {
	cases := []struct {
		name string
		rssi int
		want int
	}{
		{"no signal sentinel", 0, 0},
		{"edge of beam", -70, 0},
		{"direct hit", -30, 100},
		{"midpoint", -50, 50},
		{"rounds half up", -45, 63},
		{"clamped below", -80, 0},
		{"clamped above", -20, 100},
		{"just inside floor", -69, 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Confidence(tc.rssi))
		})
	}
}
