package model

import (
	"fmt"
	"time"
)

// Defaults applied by Normalize when a device omits a field.
const (
	DefaultDecisionStatus = "ACCEPTED"
	DefaultScanType       = "placement"
)

// PlacementEvent is a raw scan event as submitted by a field device.
// Field names follow the device sync payload.
type PlacementEvent struct {
	BrickNumber    string  `json:"brickNumber"`
	Timestamp      int64   `json:"timestamp"` // epoch milliseconds, client clock
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Altitude       float64 `json:"altitude"`
	Accuracy       float64 `json:"accuracy"` // meters, 0 = no fix
	BuildSessionID string  `json:"buildSessionId"`
	EventSeq       int     `json:"eventSeq"`
	RSSIAvg        int     `json:"rssiAvg"`  // dB
	RSSIPeak       int     `json:"rssiPeak"` // dB, 0 = no signal
	ReadsInWindow  int     `json:"readsInWindow"`
	PowerLevel     int     `json:"powerLevel"`
	DecisionStatus string  `json:"decisionStatus"`
	ScanType       string  `json:"scanType"`
}

// NormalizedEvent is a PlacementEvent with defaults filled in and its
// derived event id attached. Only normalized events reach the classifier.
type NormalizedEvent struct {
	PlacementEvent
	EventID string `json:"eventId"`
}

// Normalize validates a raw event and produces its fully populated form.
// The event id is deterministic: buildSessionId + "-" + eventSeq.
func Normalize(ev PlacementEvent) (NormalizedEvent, error) {
	if ev.BrickNumber == "" {
		return NormalizedEvent{}, fmt.Errorf("missing brick number")
	}
	if ev.BuildSessionID == "" {
		return NormalizedEvent{}, fmt.Errorf("missing build session id")
	}
	if ev.EventSeq < 0 {
		return NormalizedEvent{}, fmt.Errorf("negative event sequence %d", ev.EventSeq)
	}
	if ev.Timestamp <= 0 {
		return NormalizedEvent{}, fmt.Errorf("invalid timestamp %d", ev.Timestamp)
	}

	if ev.DecisionStatus == "" {
		ev.DecisionStatus = DefaultDecisionStatus
	}
	if ev.ScanType == "" {
		ev.ScanType = DefaultScanType
	}

	return NormalizedEvent{
		PlacementEvent: ev,
		EventID:        fmt.Sprintf("%s-%d", ev.BuildSessionID, ev.EventSeq),
	}, nil
}

// ClassifiedEvent is a normalized event the classifier accepted, augmented
// with commit targeting information.
type ClassifiedEvent struct {
	NormalizedEvent

	// ExistingID is the placement row an update overwrites. Zero means the
	// target row is created by an insert earlier in the same batch and the
	// committer resolves the id after running the inserts.
	ExistingID int64

	// Confidence is the directional confidence of the accepted read,
	// recorded for diagnostics.
	Confidence int
}

// Partition is the classifier's split of a batch into commit operations.
type Partition struct {
	ToInsert []ClassifiedEvent
	ToUpdate []ClassifiedEvent
}

// Empty reports whether the partition contains no work.
func (p Partition) Empty() bool {
	return len(p.ToInsert) == 0 && len(p.ToUpdate) == 0
}

// Placement is the single authoritative current row for a (mason, brick)
// pair.
type Placement struct {
	ID             int64   `json:"id"`
	MasonID        string  `json:"masonId"`
	BrickNumber    string  `json:"brickNumber"`
	RFIDTag        string  `json:"rfidTag"`
	Timestamp      int64   `json:"timestamp"`
	ReceivedAt     int64   `json:"receivedAt"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Altitude       float64 `json:"altitude"`
	Accuracy       float64 `json:"accuracy"`
	BuildSessionID string  `json:"buildSessionId"`
	EventSeq       int     `json:"eventSeq"`
	RSSIAvg        int     `json:"rssiAvg"`
	RSSIPeak       int     `json:"rssiPeak"`
	ReadsInWindow  int     `json:"readsInWindow"`
	PowerLevel     int     `json:"powerLevel"`
	DecisionStatus string  `json:"decisionStatus"`
	EventID        string  `json:"eventId"`
	ScanType       string  `json:"scanType"`
}

// HistoryRecord is an immutable snapshot of a placement row taken before
// it was overwritten.
type HistoryRecord struct {
	ID          int64     `json:"id"`
	PlacementID int64     `json:"placementId"`
	ActionType  string    `json:"actionType"`
	ArchivedAt  time.Time `json:"archivedAt"`
	Placement
}

// Outcome is the per-event disposition of a sync call.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeRejected Outcome = "rejected"
)

// RejectReason explains why the classifier dropped an event. Rejections
// are not errors; they are recorded for diagnostics only.
type RejectReason string

const (
	RejectStale              RejectReason = "stale"
	RejectTooRecent          RejectReason = "too-recent"
	RejectNoImprovement      RejectReason = "no-improvement"
	RejectDuplicateEventID   RejectReason = "duplicate-event-id"
	RejectCrossActorConflict RejectReason = "cross-actor-conflict"
	RejectInvalidEvent       RejectReason = "invalid-event"
)

// Disposition records what happened to one submitted event.
type Disposition struct {
	EventID     string       `json:"eventId"`
	BrickNumber string       `json:"brickNumber"`
	Outcome     Outcome      `json:"outcome"`
	Reason      RejectReason `json:"reason,omitempty"`
}

// SyncResult is returned to the caller after a batch commit.
type SyncResult struct {
	Inserted     int           `json:"inserted"`
	Updated      int           `json:"updated"`
	Rejected     int           `json:"rejected"`
	Dispositions []Disposition `json:"dispositions,omitempty"`
}
