package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bricktrack/go-sync-server/internal/model"
)

const placementColumns = `id, mason_id, brick_number, rfid_tag, timestamp, received_at,
	latitude, longitude, altitude, accuracy,
	build_session_id, event_seq, rssi_avg, rssi_peak, reads_in_window, power_level,
	decision_status, event_id, scan_type`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlacement(sc rowScanner) (model.Placement, error) {
	var p model.Placement
	err := sc.Scan(
		&p.ID, &p.MasonID, &p.BrickNumber, &p.RFIDTag, &p.Timestamp, &p.ReceivedAt,
		&p.Latitude, &p.Longitude, &p.Altitude, &p.Accuracy,
		&p.BuildSessionID, &p.EventSeq, &p.RSSIAvg, &p.RSSIPeak, &p.ReadsInWindow, &p.PowerLevel,
		&p.DecisionStatus, &p.EventID, &p.ScanType,
	)
	if err != nil {
		return model.Placement{}, err
	}
	return p, nil
}

// LatestPlacement returns the most recent current row for the
// (mason, brick) pair, or nil when the pair has never been accepted.
func (s *Store) LatestPlacement(ctx context.Context, masonID, brickNumber string) (*model.Placement, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+placementColumns+`
		 FROM placements
		 WHERE mason_id = ? AND brick_number = ?
		 ORDER BY timestamp DESC LIMIT 1;`,
		masonID, brickNumber)

	p, err := scanPlacement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest placement: %w", err)
	}
	return &p, nil
}

// EventIDExists reports whether a current row already carries the event id.
func (s *Store) EventIDExists(ctx context.Context, eventID string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM placements WHERE event_id = ?;`, eventID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query event id: %w", err)
	}
	return true, nil
}

// CrossMasonConflict returns another mason's current row for the same
// brick within the window around ts, newest first, or nil.
func (s *Store) CrossMasonConflict(ctx context.Context, brickNumber, masonID string, ts, windowMillis int64) (*model.Placement, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+placementColumns+`
		 FROM placements
		 WHERE brick_number = ? AND mason_id != ? AND ABS(timestamp - ?) < ?
		 ORDER BY timestamp DESC LIMIT 1;`,
		brickNumber, masonID, ts, windowMillis)

	p, err := scanPlacement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cross-mason conflict: %w", err)
	}
	return &p, nil
}

// PlacementsByMason returns a mason's current rows ordered by session,
// then sequence, which reflects true placement order. A nonzero since
// filters to newer rows for incremental feeds.
func (s *Store) PlacementsByMason(ctx context.Context, masonID string, since int64) ([]model.Placement, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `SELECT ` + placementColumns + ` FROM placements WHERE mason_id = ?`
	args := []any{masonID}
	if since > 0 {
		query += ` AND timestamp > ?`
		args = append(args, since)
	}
	query += ` ORDER BY build_session_id DESC, event_seq ASC, timestamp ASC;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query placements by mason: %w", err)
	}
	defer rows.Close()

	return collectPlacements(rows)
}

// PlacementsByBrick returns every mason's current row for a brick,
// newest first.
func (s *Store) PlacementsByBrick(ctx context.Context, brickNumber string) ([]model.Placement, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+placementColumns+`
		 FROM placements
		 WHERE brick_number = ?
		 ORDER BY timestamp DESC;`,
		brickNumber)
	if err != nil {
		return nil, fmt.Errorf("query placements by brick: %w", err)
	}
	defer rows.Close()

	return collectPlacements(rows)
}

// RecentPlacements returns the newest current rows across all masons.
func (s *Store) RecentPlacements(ctx context.Context, limit int) ([]model.Placement, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+placementColumns+`
		 FROM placements
		 ORDER BY timestamp DESC
		 LIMIT ?;`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("query recent placements: %w", err)
	}
	defer rows.Close()

	return collectPlacements(rows)
}

// CountByMason returns the number of current rows for a mason, optionally
// filtered by scan type.
func (s *Store) CountByMason(ctx context.Context, masonID, scanType string) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	query := `SELECT COUNT(*) FROM placements WHERE mason_id = ?`
	args := []any{masonID}
	if scanType != "" {
		query += ` AND scan_type = ?`
		args = append(args, scanType)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query+";", args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count placements: %w", err)
	}
	return count, nil
}

// MasonCount pairs a mason with their current placement count.
type MasonCount struct {
	MasonID string `json:"masonId"`
	Count   int    `json:"count"`
}

// StatsByMason returns current placement counts per mason, busiest first.
func (s *Store) StatsByMason(ctx context.Context) ([]MasonCount, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT mason_id, COUNT(*) AS count
		 FROM placements
		 GROUP BY mason_id
		 ORDER BY count DESC;`)
	if err != nil {
		return nil, fmt.Errorf("query mason stats: %w", err)
	}
	defer rows.Close()

	var stats []MasonCount
	for rows.Next() {
		var mc MasonCount
		if err := rows.Scan(&mc.MasonID, &mc.Count); err != nil {
			return nil, fmt.Errorf("scan mason stats: %w", err)
		}
		stats = append(stats, mc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mason stats: %w", err)
	}
	return stats, nil
}

// DeleteByMason removes every current row for a mason. History records
// are left untouched; this is the explicit actor-scoped reset.
func (s *Store) DeleteByMason(ctx context.Context, masonID string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM placements WHERE mason_id = ?;`, masonID)
	if err != nil {
		return 0, fmt.Errorf("delete placements: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete placements rows affected: %w", err)
	}
	return n, nil
}

func collectPlacements(rows *sql.Rows) ([]model.Placement, error) {
	var placements []model.Placement
	for rows.Next() {
		p, err := scanPlacement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan placement: %w", err)
		}
		placements = append(placements, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate placements: %w", err)
	}
	return placements, nil
}
