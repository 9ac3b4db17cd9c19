package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bricktrack/go-sync-server/internal/model"
)

const baseTS int64 = 1_700_000_000_000

// fakeState is an in-memory StateReader holding committed current rows.
type fakeState struct {
	placements []model.Placement
}

func (f *fakeState) LatestPlacement(_ context.Context, masonID, brickNumber string) (*model.Placement, error) {
	var best *model.Placement
	for i := range f.placements {
		p := &f.placements[i]
		if p.MasonID != masonID || p.BrickNumber != brickNumber {
			continue
		}
		if best == nil || p.Timestamp > best.Timestamp {
			best = p
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func (f *fakeState) EventIDExists(_ context.Context, eventID string) (bool, error) {
	for _, p := range f.placements {
		if p.EventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeState) CrossMasonConflict(_ context.Context, brickNumber, masonID string, ts, windowMillis int64) (*model.Placement, error) {
	for i := range f.placements {
		p := &f.placements[i]
		if p.BrickNumber != brickNumber || p.MasonID == masonID {
			continue
		}
		diff := ts - p.Timestamp
		if diff < 0 {
			diff = -diff
		}
		if diff < windowMillis {
			out := *p
			return &out, nil
		}
	}
	return nil, nil
}

func testClassifier(state StateReader) *Classifier {
	return NewClassifier(state, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func event(brick, session string, seq int, ts int64) model.NormalizedEvent {
	n, err := model.Normalize(model.PlacementEvent{
		BrickNumber:    brick,
		BuildSessionID: session,
		EventSeq:       seq,
		Timestamp:      ts,
	})
	if err != nil {
		panic(err)
	}
	return n
}

func currentRow(id int64, masonID, brick, eventID string, ts int64, rssiPeak int, accuracy, lat, lon float64) model.Placement {
	return model.Placement{
		ID:          id,
		MasonID:     masonID,
		BrickNumber: brick,
		EventID:     eventID,
		Timestamp:   ts,
		RSSIPeak:    rssiPeak,
		Accuracy:    accuracy,
		Latitude:    lat,
		Longitude:   lon,
	}
}

func TestClassifyInsertsNewBrick(t *testing.T) {
	c := testClassifier(&fakeState{})

	ev := event("B1", "s1", 0, baseTS)
	ev.RSSIPeak = -50
	ev.Accuracy = 2.0

	partition, dispositions, err := c.Classify(context.Background(), "A", []model.NormalizedEvent{ev})
	require.NoError(t, err)

	require.Len(t, partition.ToInsert, 1)
	assert.Empty(t, partition.ToUpdate)
	assert.Equal(t, 50, partition.ToInsert[0].Confidence)
	require.Len(t, dispositions, 1)
	assert.Equal(t, model.OutcomeInserted, dispositions[0].Outcome)
}

func TestClassifyRejectsNoImprovement(t *testing.T) {
	state := &fakeState{placements: []model.Placement{
		currentRow(1, "A", "B1", "s0-0", baseTS, -50, 2.0, 40.7, -74.0),
	}}
	c := testClassifier(state)

	ev := event("B1", "s1", 0, baseTS+40_000)
	ev.RSSIPeak = -50
	ev.Accuracy = 2.0

	partition, dispositions, err := c.Classify(context.Background(), "A", []model.NormalizedEvent{ev})
	require.NoError(t, err)

	assert.True(t, partition.Empty())
	require.Len(t, dispositions, 1)
	assert.Equal(t, model.OutcomeRejected, dispositions[0].Outcome)
	assert.Equal(t, model.RejectNoImprovement, dispositions[0].Reason)
}

func TestClassifyUpdatesOnSignificantlyStrongerSignal(t *testing.T) {
	state := &fakeState{placements: []model.Placement{
		currentRow(7, "A", "B1", "s0-0", baseTS, -50, 2.0, 40.7, -74.0),
	}}
	c := testClassifier(state)

	ev := event("B1", "s1", 0, baseTS+40_000)
	ev.RSSIPeak = -45
	ev.Accuracy = 2.0
	ev.Latitude = 40.71
	ev.Longitude = -74.01

	partition, dispositions, err := c.Classify(context.Background(), "A", []model.NormalizedEvent{ev})
	require.NoError(t, err)

	require.Len(t, partition.ToUpdate, 1)
	assert.Empty(t, partition.ToInsert)
	assert.Equal(t, int64(7), partition.ToUpdate[0].ExistingID)
	assert.Equal(t, 63, partition.ToUpdate[0].Confidence)
	require.Len(t, dispositions, 1)
	assert.Equal(t, model.OutcomeUpdated, dispositions[0].Outcome)
}

func TestClassifyRejectsStale(t *testing.T) {
	state := &fakeState{placements: []model.Placement{
		currentRow(1, "A", "B1", "s0-0", baseTS, -50, 2.0, 0, 0),
	}}
	c := testClassifier(state)

	ev := event("B1", "s1", 0, baseTS-5_000)
	ev.RSSIPeak = -40

	partition, dispositions, err := c.Classify(context.Background(), "A", []model.NormalizedEvent{ev})
	require.NoError(t, err)

	assert.True(t, partition.Empty())
	assert.Equal(t, model.RejectStale, dispositions[0].Reason)
}

func TestClassifyRejectsTooRecent(t *testing.T) {
	state := &fakeState{placements: []model.Placement{
		currentRow(1, "A", "B1", "s0-0", baseTS, -50, 2.0, 0, 0),
	}}
	c := testClassifier(state)

	ev := event("B1", "s1", 0, baseTS+29_999)
	ev.RSSIPeak = -30

	partition, dispositions, err := c.Classify(context.Background(), "A", []model.NormalizedEvent{ev})
	require.NoError(t, err)

	assert.True(t, partition.Empty())
	assert.Equal(t, model.RejectTooRecent, dispositions[0].Reason)
}

func TestClassifyAcceptsAtExactRevisionGap(t *testing.T) {
	state := &fakeState{placements: []model.Placement{
		currentRow(3, "A", "B1", "s0-0", baseTS, -50, 2.0, 0, 0),
	}}
	c := testClassifier(state)

	ev := event("B1", "s1", 0, baseTS+MinRevisionGapMillis)
	ev.RSSIPeak = -40

	partition, _, err := c.Classify(context.Background(), "A", []model.NormalizedEvent{ev})
	require.NoError(t, err)
	require.Len(t, partition.ToUpdate, 1)
}

func TestClassifyRejectsDuplicateEventID(t *testing.T) {
	state := &fakeState{placements: []model.Placement{
		currentRow(1, "A", "B1", "s1-0", baseTS, -50, 2.0, 0, 0),
	}}
	c := testClassifier(state)

	// Same session id + sequence as the stored row, every other field
	// different, even a different brick.
	ev := event("B9", "s1", 0, baseTS+100_000)
	ev.RSSIPeak = -35

	partition, dispositions, err := c.Classify(context.Background(), "A", []model.NormalizedEvent{ev})
	require.NoError(t, err)

	assert.True(t, partition.Empty())
	assert.Equal(t, model.RejectDuplicateEventID, dispositions[0].Reason)
}

func TestClassifyRejectsCrossActorConflict(t *testing.T) {
	state := &fakeState{placements: []model.Placement{
		currentRow(1, "A", "B2", "s0-0", baseTS, -50, 2.0, 0, 0),
	}}
	c := testClassifier(state)

	ev := event("B2", "s9", 0, baseTS+60_000)
	ev.RSSIPeak = -45

	partition, dispositions, err := c.Classify(context.Background(), "C", []model.NormalizedEvent{ev})
	require.NoError(t, err)

	assert.True(t, partition.Empty())
	assert.Equal(t, model.RejectCrossActorConflict, dispositions[0].Reason)
}

func TestClassifyAllowsCrossActorOutsideWindow(t *testing.T) {
	state := &fakeState{placements: []model.Placement{
		currentRow(1, "A", "B2", "s0-0", baseTS, -50, 2.0, 0, 0),
	}}
	c := testClassifier(state)

	ev := event("B2", "s9", 0, baseTS+CrossActorWindowMillis+1)
	ev.RSSIPeak = -45

	partition, _, err := c.Classify(context.Background(), "C", []model.NormalizedEvent{ev})
	require.NoError(t, err)
	require.Len(t, partition.ToInsert, 1)
}

func TestClassifyGPSFixCountsAsImprovement(t *testing.T) {
	state := &fakeState{placements: []model.Placement{
		currentRow(5, "A", "B1", "s0-0", baseTS, -50, 2.0, 0, 0),
	}}
	c := testClassifier(state)

	// Weaker signal, but the current row has no GPS fix and this one does.
	ev := event("B1", "s1", 0, baseTS+40_000)
	ev.RSSIPeak = -55
	ev.Latitude = 40.71
	ev.Longitude = -74.01

	partition, _, err := c.Classify(context.Background(), "A", []model.NormalizedEvent{ev})
	require.NoError(t, err)
	require.Len(t, partition.ToUpdate, 1)
	assert.Equal(t, int64(5), partition.ToUpdate[0].ExistingID)
}

func TestClassifyLaterEventsSeeSameBatchInserts(t *testing.T) {
	c := testClassifier(&fakeState{})

	first := event("B1", "s1", 0, baseTS)
	first.RSSIPeak = -50
	second := event("B1", "s1", 1, baseTS+40_000)
	second.RSSIPeak = -45
	second.Latitude = 40.71
	second.Longitude = -74.01

	partition, dispositions, err := c.Classify(context.Background(), "A", []model.NormalizedEvent{first, second})
	require.NoError(t, err)

	require.Len(t, partition.ToInsert, 1)
	require.Len(t, partition.ToUpdate, 1)
	// Target row does not exist yet; the committer resolves it.
	assert.Equal(t, int64(0), partition.ToUpdate[0].ExistingID)
	assert.Equal(t, model.OutcomeInserted, dispositions[0].Outcome)
	assert.Equal(t, model.OutcomeUpdated, dispositions[1].Outcome)
}

func TestClassifyRejectsRapidRescanWithinBatch(t *testing.T) {
	c := testClassifier(&fakeState{})

	first := event("B1", "s1", 0, baseTS)
	second := event("B1", "s1", 1, baseTS+1_000)
	second.RSSIPeak = -30

	partition, dispositions, err := c.Classify(context.Background(), "A", []model.NormalizedEvent{first, second})
	require.NoError(t, err)

	require.Len(t, partition.ToInsert, 1)
	assert.Empty(t, partition.ToUpdate)
	assert.Equal(t, model.RejectTooRecent, dispositions[1].Reason)
}

func TestClassifyRejectsDuplicateEventIDWithinBatch(t *testing.T) {
	c := testClassifier(&fakeState{})

	first := event("B1", "s1", 0, baseTS)
	second := event("B2", "s1", 0, baseTS+40_000)

	partition, dispositions, err := c.Classify(context.Background(), "A", []model.NormalizedEvent{first, second})
	require.NoError(t, err)

	require.Len(t, partition.ToInsert, 1)
	assert.Equal(t, model.RejectDuplicateEventID, dispositions[1].Reason)
}
