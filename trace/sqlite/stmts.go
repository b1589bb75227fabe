package sqlite

import (
	"context"
	"fmt"
)

// prepareStatements prepares all SQL statements for reuse.
func (s *Store) prepareStatements(ctx context.Context) error {
	var err error

	const sqlSaveSnapshot = `
		INSERT INTO snapshots (id, cpu, reason, taken_at, points)
		VALUES (?, ?, ?, ?, ?)`
	if s.stmtSaveSnapshot, err = s.db.PrepareContext(ctx, sqlSaveSnapshot); err != nil {
		return fmt.Errorf("prepare SaveSnapshot: %w", err)
	}

	const sqlSavePoint = `
		INSERT INTO trace_points (snapshot_id, seq, time_ns, cpu, kind, code)
		VALUES (?, ?, ?, ?, ?, ?)`
	if s.stmtSavePoint, err = s.db.PrepareContext(ctx, sqlSavePoint); err != nil {
		return fmt.Errorf("prepare SavePoint: %w", err)
	}

	const sqlGetSnapshot = "SELECT cpu, reason, taken_at, points FROM snapshots WHERE id = ?"
	if s.stmtGetSnapshot, err = s.db.PrepareContext(ctx, sqlGetSnapshot); err != nil {
		return fmt.Errorf("prepare GetSnapshot: %w", err)
	}

	const sqlGetPoints = `
		SELECT time_ns, cpu, kind, code
		FROM trace_points
		WHERE snapshot_id = ?
		ORDER BY seq`
	if s.stmtGetPoints, err = s.db.PrepareContext(ctx, sqlGetPoints); err != nil {
		return fmt.Errorf("prepare GetPoints: %w", err)
	}

	const sqlListSnapshots = `
		SELECT id, cpu, reason, taken_at, points
		FROM snapshots
		ORDER BY taken_at, id`
	if s.stmtListSnapshots, err = s.db.PrepareContext(ctx, sqlListSnapshots); err != nil {
		return fmt.Errorf("prepare ListSnapshots: %w", err)
	}

	const sqlDeleteSnapshot = "DELETE FROM snapshots WHERE id = ?"
	if s.stmtDeleteSnapshot, err = s.db.PrepareContext(ctx, sqlDeleteSnapshot); err != nil {
		return fmt.Errorf("prepare DeleteSnapshot: %w", err)
	}

	return nil
}
