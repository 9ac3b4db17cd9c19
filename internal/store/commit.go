package store

import (
	"context"
	"fmt"
	"time"

	"bricktrack/go-sync-server/internal/model"
)

// CommitBatch applies a classified partition as one transaction: all
// inserts first, sharing a single receipt timestamp, then each update as
// archive-then-overwrite. Any failure rolls the whole batch back; no
// partial batch is ever visible.
func (s *Store) CommitBatch(ctx context.Context, masonID string, p model.Partition) (int, int, error) {
	if err := s.ready(); err != nil {
		return 0, 0, err
	}
	if p.Empty() {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	receivedAt := time.Now().UnixMilli()

	// Row ids of this batch's inserts, so updates classified against a
	// same-batch insert can resolve their target.
	insertedIDs := make(map[string]int64, len(p.ToInsert))

	for _, ev := range p.ToInsert {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO placements (
				mason_id, brick_number, rfid_tag, timestamp, received_at,
				latitude, longitude, altitude, accuracy,
				build_session_id, event_seq, rssi_avg, rssi_peak, reads_in_window, power_level,
				decision_status, event_id, scan_type
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			masonID,
			ev.BrickNumber,
			ev.BrickNumber, // rfid_tag mirrors the EPC
			ev.Timestamp,
			receivedAt,
			ev.Latitude,
			ev.Longitude,
			ev.Altitude,
			ev.Accuracy,
			ev.BuildSessionID,
			ev.EventSeq,
			ev.RSSIAvg,
			ev.RSSIPeak,
			ev.ReadsInWindow,
			ev.PowerLevel,
			ev.DecisionStatus,
			ev.EventID,
			ev.ScanType,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("insert placement %s: %w", ev.EventID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, 0, fmt.Errorf("insert placement %s id: %w", ev.EventID, err)
		}
		insertedIDs[ev.BrickNumber] = id
	}

	for _, ev := range p.ToUpdate {
		targetID := ev.ExistingID
		if targetID == 0 {
			id, ok := insertedIDs[ev.BrickNumber]
			if !ok {
				return 0, 0, fmt.Errorf("update target for brick %s not found in batch", ev.BrickNumber)
			}
			targetID = id
		}

		// Archive the pre-update state before touching the row.
		res, err := tx.ExecContext(ctx,
			`INSERT INTO placement_history (
				placement_id, mason_id, brick_number, rfid_tag, timestamp, received_at,
				latitude, longitude, altitude, accuracy,
				build_session_id, event_seq, rssi_avg, rssi_peak, reads_in_window, power_level,
				decision_status, event_id, scan_type, action_type
			)
			SELECT id, mason_id, brick_number, rfid_tag, timestamp, received_at,
				latitude, longitude, altitude, accuracy,
				build_session_id, event_seq, rssi_avg, rssi_peak, reads_in_window, power_level,
				decision_status, event_id, scan_type, 'UPDATE'
			FROM placements WHERE id = ?;`,
			targetID)
		if err != nil {
			return 0, 0, fmt.Errorf("archive placement %d: %w", targetID, err)
		}
		archived, err := res.RowsAffected()
		if err != nil {
			return 0, 0, fmt.Errorf("archive placement %d rows affected: %w", targetID, err)
		}
		if archived != 1 {
			return 0, 0, fmt.Errorf("archive placement %d: row missing", targetID)
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE placements SET
				timestamp = ?, received_at = ?,
				latitude = ?, longitude = ?, altitude = ?, accuracy = ?,
				build_session_id = ?, event_seq = ?,
				rssi_avg = ?, rssi_peak = ?, reads_in_window = ?, power_level = ?,
				decision_status = ?, event_id = ?, scan_type = ?
			WHERE id = ?;`,
			ev.Timestamp,
			receivedAt,
			ev.Latitude,
			ev.Longitude,
			ev.Altitude,
			ev.Accuracy,
			ev.BuildSessionID,
			ev.EventSeq,
			ev.RSSIAvg,
			ev.RSSIPeak,
			ev.ReadsInWindow,
			ev.PowerLevel,
			ev.DecisionStatus,
			ev.EventID,
			ev.ScanType,
			targetID,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("update placement %d: %w", targetID, err)
		}
		updated, err := res.RowsAffected()
		if err != nil {
			return 0, 0, fmt.Errorf("update placement %d rows affected: %w", targetID, err)
		}
		if updated != 1 {
			return 0, 0, fmt.Errorf("update placement %d: row missing", targetID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit transaction: %w", err)
	}
	return len(p.ToInsert), len(p.ToUpdate), nil
}
