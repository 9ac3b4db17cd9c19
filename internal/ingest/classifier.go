package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"bricktrack/go-sync-server/internal/model"
)

// Classification thresholds. A placement is re-broadcast many times per
// scan session, so overwrites are throttled and only monotonically better
// fixes are accepted.
const (
	// MinRevisionGapMillis is the minimum age difference before a newer
	// scan may revise a stored placement.
	MinRevisionGapMillis int64 = 30_000

	// CrossActorWindowMillis is the window within which two masons
	// claiming the same brick is treated as a conflict.
	CrossActorWindowMillis int64 = 5 * 60 * 1000

	// SignificantRSSIDelta is the peak RSSI gain in dB that counts as a
	// significantly better directional read.
	SignificantRSSIDelta = 3
)

// StateReader is the view of committed placement state the classifier
// consults. *store.Store satisfies it.
type StateReader interface {
	// LatestPlacement returns the most recent current row for the
	// (mason, brick) pair, or nil when none exists.
	LatestPlacement(ctx context.Context, masonID, brickNumber string) (*model.Placement, error)

	// EventIDExists reports whether any current row already carries the
	// event id.
	EventIDExists(ctx context.Context, eventID string) (bool, error)

	// CrossMasonConflict returns another mason's current row for the same
	// brick within the window around ts, or nil when none exists.
	CrossMasonConflict(ctx context.Context, brickNumber, masonID string, ts, windowMillis int64) (*model.Placement, error)
}

// Classifier partitions a batch of normalized events into inserts and
// updates, dropping duplicates and inferior reads. Rejections are not
// errors; they surface only as dispositions and log lines.
type Classifier struct {
	state  StateReader
	logger *slog.Logger
}

// NewClassifier constructs a classifier over the given committed state.
func NewClassifier(state StateReader, logger *slog.Logger) *Classifier {
	return &Classifier{state: state, logger: logger}
}

// currentView is the state an incoming event is judged against: either a
// committed row or the outcome of an earlier event in the same batch.
type currentView struct {
	rowID     int64 // committed row id; 0 when the row is a pending same-batch insert
	timestamp int64
	latitude  float64
	longitude float64
	accuracy  float64
	rssiPeak  int
}

// Classify evaluates each event in order against the latest known state
// for its (mason, brick) pair, including the effects of earlier events in
// the same batch. It returns the accepted partition and one disposition
// per event. Errors are storage failures only.
func (c *Classifier) Classify(ctx context.Context, masonID string, events []model.NormalizedEvent) (model.Partition, []model.Disposition, error) {
	var partition model.Partition
	dispositions := make([]model.Disposition, 0, len(events))

	// Per-batch pending state so later events see earlier outcomes.
	pending := make(map[string]currentView)
	pendingEventIDs := make(map[string]struct{})

	reject := func(ev model.NormalizedEvent, reason model.RejectReason, detail string) {
		c.logger.Debug("rejected placement",
			"mason", masonID, "brick", ev.BrickNumber, "event", ev.EventID,
			"reason", string(reason), "detail", detail)
		dispositions = append(dispositions, model.Disposition{
			EventID:     ev.EventID,
			BrickNumber: ev.BrickNumber,
			Outcome:     model.OutcomeRejected,
			Reason:      reason,
		})
	}

	for _, ev := range events {
		// Exact re-delivery: an event id may exist at most once across
		// current rows, whether committed or accepted earlier in this
		// batch.
		if _, dup := pendingEventIDs[ev.EventID]; dup {
			reject(ev, model.RejectDuplicateEventID, "seen earlier in batch")
			continue
		}
		exists, err := c.state.EventIDExists(ctx, ev.EventID)
		if err != nil {
			return model.Partition{}, nil, fmt.Errorf("check event id %s: %w", ev.EventID, err)
		}
		if exists {
			reject(ev, model.RejectDuplicateEventID, "already stored")
			continue
		}

		cur, fromBatch, err := c.lookupCurrent(ctx, masonID, ev.BrickNumber, pending)
		if err != nil {
			return model.Partition{}, nil, err
		}

		if cur == nil {
			// First observation of this brick by this mason. Guard against
			// another mason claiming the same brick in a short window.
			conflict, err := c.state.CrossMasonConflict(ctx, ev.BrickNumber, masonID, ev.Timestamp, CrossActorWindowMillis)
			if err != nil {
				return model.Partition{}, nil, fmt.Errorf("cross-mason check for %s: %w", ev.BrickNumber, err)
			}
			if conflict != nil {
				reject(ev, model.RejectCrossActorConflict,
					fmt.Sprintf("claimed by %s at %d", conflict.MasonID, conflict.Timestamp))
				continue
			}

			accepted := model.ClassifiedEvent{
				NormalizedEvent: ev,
				Confidence:      Confidence(ev.RSSIPeak),
			}
			partition.ToInsert = append(partition.ToInsert, accepted)
			pending[ev.BrickNumber] = viewOf(ev, 0)
			pendingEventIDs[ev.EventID] = struct{}{}
			dispositions = append(dispositions, model.Disposition{
				EventID:     ev.EventID,
				BrickNumber: ev.BrickNumber,
				Outcome:     model.OutcomeInserted,
			})
			continue
		}

		timeDiff := ev.Timestamp - cur.timestamp
		if timeDiff < 0 {
			reject(ev, model.RejectStale, fmt.Sprintf("%dms older than current", -timeDiff))
			continue
		}
		if timeDiff < MinRevisionGapMillis {
			reject(ev, model.RejectTooRecent, fmt.Sprintf("%dms gap, minimum %dms", timeDiff, MinRevisionGapMillis))
			continue
		}

		if !improves(ev, *cur) {
			reject(ev, model.RejectNoImprovement,
				fmt.Sprintf("accuracy %.1fm vs %.1fm, rssi %ddB vs %ddB", ev.Accuracy, cur.accuracy, ev.RSSIPeak, cur.rssiPeak))
			continue
		}

		accepted := model.ClassifiedEvent{
			NormalizedEvent: ev,
			ExistingID:      cur.rowID,
			Confidence:      Confidence(ev.RSSIPeak),
		}
		partition.ToUpdate = append(partition.ToUpdate, accepted)
		pending[ev.BrickNumber] = viewOf(ev, cur.rowID)
		pendingEventIDs[ev.EventID] = struct{}{}
		dispositions = append(dispositions, model.Disposition{
			EventID:     ev.EventID,
			BrickNumber: ev.BrickNumber,
			Outcome:     model.OutcomeUpdated,
		})

		c.logger.Debug("accepted revision",
			"mason", masonID, "brick", ev.BrickNumber, "event", ev.EventID,
			"confidence", accepted.Confidence, "same_batch_target", fromBatch)
	}

	return partition, dispositions, nil
}

// lookupCurrent returns the latest known state for the pair, preferring
// outcomes accepted earlier in the same batch over committed rows.
func (c *Classifier) lookupCurrent(ctx context.Context, masonID, brickNumber string, pending map[string]currentView) (*currentView, bool, error) {
	if view, ok := pending[brickNumber]; ok {
		return &view, true, nil
	}

	row, err := c.state.LatestPlacement(ctx, masonID, brickNumber)
	if err != nil {
		return nil, false, fmt.Errorf("lookup current placement for %s: %w", brickNumber, err)
	}
	if row == nil {
		return nil, false, nil
	}
	return &currentView{
		rowID:     row.ID,
		timestamp: row.Timestamp,
		latitude:  row.Latitude,
		longitude: row.Longitude,
		accuracy:  row.Accuracy,
		rssiPeak:  row.RSSIPeak,
	}, false, nil
}

// improves reports whether the new scan is a strictly better fix than the
// current one. The predicates are independent acceptance paths: better
// GPS accuracy, any stronger signal, a GPS fix where none existed, or a
// significantly stronger signal combined with a valid fix.
func improves(ev model.NormalizedEvent, cur currentView) bool {
	rssiDiff := ev.RSSIPeak - cur.rssiPeak

	hasBetterAccuracy := ev.Accuracy > 0 &&
		(cur.accuracy == 0 || ev.Accuracy < cur.accuracy)
	hasStrongerSignal := rssiDiff > 0
	hasSignificantlyStrongerSignal := rssiDiff >= SignificantRSSIDelta
	hasValidGPS := ev.Latitude != 0 && ev.Longitude != 0 &&
		(cur.latitude == 0 || cur.longitude == 0)
	hasBetterDirectionalPosition := hasSignificantlyStrongerSignal &&
		ev.Latitude != 0 && ev.Longitude != 0

	return hasBetterAccuracy || hasStrongerSignal || hasValidGPS || hasBetterDirectionalPosition
}

func viewOf(ev model.NormalizedEvent, rowID int64) currentView {
	return currentView{
		rowID:     rowID,
		timestamp: ev.Timestamp,
		latitude:  ev.Latitude,
		longitude: ev.Longitude,
		accuracy:  ev.Accuracy,
		rssiPeak:  ev.RSSIPeak,
	}
}
