package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	ev, err := Normalize(PlacementEvent{
		BrickNumber:    "E2000017221101",
		BuildSessionID: "sess-abc",
		EventSeq:       7,
		Timestamp:      1700000000000,
	})
	require.NoError(t, err)

	assert.Equal(t, "sess-abc-7", ev.EventID)
	assert.Equal(t, DefaultDecisionStatus, ev.DecisionStatus)
	assert.Equal(t, DefaultScanType, ev.ScanType)
}

func TestNormalizePreservesExplicitFields(t *testing.T) {
	ev, err := Normalize(PlacementEvent{
		BrickNumber:    "B1",
		BuildSessionID: "s",
		EventSeq:       0,
		Timestamp:      1,
		DecisionStatus: "AMBIGUOUS",
		ScanType:       "pallet",
	})
	require.NoError(t, err)

	assert.Equal(t, "s-0", ev.EventID)
	assert.Equal(t, "AMBIGUOUS", ev.DecisionStatus)
	assert.Equal(t, "pallet", ev.ScanType)
}

func TestNormalizeRejectsMalformedEvents(t *testing.T) {
	cases := []struct {
		name string
		ev   PlacementEvent
	}{
		{"missing brick", PlacementEvent{BuildSessionID: "s", Timestamp: 1}},
		{"missing session", PlacementEvent{BrickNumber: "B1", Timestamp: 1}},
		{"negative seq", PlacementEvent{BrickNumber: "B1", BuildSessionID: "s", EventSeq: -1, Timestamp: 1}},
		{"zero timestamp", PlacementEvent{BrickNumber: "B1", BuildSessionID: "s"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(tc.ev)
			assert.Error(t, err)
		})
	}
}
