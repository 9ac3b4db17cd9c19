package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bricktrack/go-sync-server/internal/model"
)

const historyColumns = `id, placement_id, action_type, archived_at,
	mason_id, brick_number, rfid_tag, timestamp, received_at,
	latitude, longitude, altitude, accuracy,
	build_session_id, event_seq, rssi_avg, rssi_peak, reads_in_window, power_level,
	decision_status, event_id, scan_type`

func scanHistory(sc rowScanner) (model.HistoryRecord, error) {
	var (
		h           model.HistoryRecord
		archivedStr string
	)
	err := sc.Scan(
		&h.ID, &h.PlacementID, &h.ActionType, &archivedStr,
		&h.MasonID, &h.BrickNumber, &h.RFIDTag, &h.Timestamp, &h.ReceivedAt,
		&h.Latitude, &h.Longitude, &h.Altitude, &h.Accuracy,
		&h.BuildSessionID, &h.EventSeq, &h.RSSIAvg, &h.RSSIPeak, &h.ReadsInWindow, &h.PowerLevel,
		&h.DecisionStatus, &h.EventID, &h.ScanType,
	)
	if err != nil {
		return model.HistoryRecord{}, err
	}

	archivedAt, err := time.Parse(time.RFC3339Nano, archivedStr)
	if err != nil {
		archivedAt, _ = time.Parse("2006-01-02T15:04:05Z07:00", archivedStr)
	}
	h.ArchivedAt = archivedAt
	return h, nil
}

// HistoryByBrick returns a brick's archived snapshots, oldest first, so
// the audit trail reads chronologically.
func (s *Store) HistoryByBrick(ctx context.Context, brickNumber string) ([]model.HistoryRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyColumns+`
		 FROM placement_history
		 WHERE brick_number = ?
		 ORDER BY archived_at ASC;`,
		brickNumber)
	if err != nil {
		return nil, fmt.Errorf("query brick history: %w", err)
	}
	defer rows.Close()

	return collectHistory(rows)
}

// HistoryByMason returns a mason's archived snapshots, newest first.
func (s *Store) HistoryByMason(ctx context.Context, masonID string, limit int) ([]model.HistoryRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyColumns+`
		 FROM placement_history
		 WHERE mason_id = ?
		 ORDER BY archived_at DESC
		 LIMIT ?;`,
		masonID, limit)
	if err != nil {
		return nil, fmt.Errorf("query mason history: %w", err)
	}
	defer rows.Close()

	return collectHistory(rows)
}

func collectHistory(rows *sql.Rows) ([]model.HistoryRecord, error) {
	var records []model.HistoryRecord
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		records = append(records, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history records: %w", err)
	}
	return records, nil
}
