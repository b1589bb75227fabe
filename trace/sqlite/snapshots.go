package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/frobware/go-ipipe/trace"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Save stores a snapshot with its points. Saving an existing id
// fails with a constraint error.
func (s *Store) Save(ctx context.Context, snap *trace.Snapshot) error {
	return s.RunInTransaction(ctx, func(tx *Store) error {
		id := snap.ID.String()
		if _, err := tx.stmtSaveSnapshot.ExecContext(ctx,
			id, snap.CPU, snap.Reason, snap.Taken.UTC().Format(timeLayout), len(snap.Points)); err != nil {
			return fmt.Errorf("save snapshot %s: %w", id, err)
		}
		for i, p := range snap.Points {
			if _, err := tx.stmtSavePoint.ExecContext(ctx,
				id, i, p.Time.UnixNano(), p.CPU, p.Kind.String(), int64(p.Code)); err != nil {
				return fmt.Errorf("save snapshot %s point %d: %w", id, i, err)
			}
		}
		tx.logger.Debug("saved snapshot", "id", id, "reason", snap.Reason, "points", len(snap.Points))
		return nil
	})
}

// Get returns a snapshot and its points.
// Returns trace.ErrNotFound if the snapshot does not exist.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*trace.Snapshot, error) {
	var (
		takenStr string
		count    int
	)
	snap := &trace.Snapshot{ID: id}
	err := s.stmtGetSnapshot.QueryRowContext(ctx, id.String()).Scan(&snap.CPU, &snap.Reason, &takenStr, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", id, trace.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	if snap.Taken, err = time.Parse(timeLayout, takenStr); err != nil {
		return nil, fmt.Errorf("invalid taken_at timestamp %q: %w", takenStr, err)
	}

	rows, err := s.stmtGetPoints.QueryContext(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s points: %w", id, err)
	}
	defer rows.Close()

	snap.Points = make([]trace.Point, 0, count)
	for rows.Next() {
		var (
			ns      int64
			kindStr string
			code    int64
			p       trace.Point
		)
		if err := rows.Scan(&ns, &p.CPU, &kindStr, &code); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		if p.Kind, err = trace.ParseKind(kindStr); err != nil {
			return nil, err
		}
		p.Time = time.Unix(0, ns).UTC()
		p.Code = uint32(code)
		snap.Points = append(snap.Points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate points: %w", err)
	}
	return snap, nil
}

// List returns the summaries of all snapshots, oldest first.
func (s *Store) List(ctx context.Context) ([]trace.Summary, error) {
	rows, err := s.stmtListSnapshots.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []trace.Summary
	for rows.Next() {
		var (
			idStr    string
			takenStr string
			sum      trace.Summary
		)
		if err := rows.Scan(&idStr, &sum.CPU, &sum.Reason, &takenStr, &sum.Points); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if sum.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid snapshot id %q: %w", idStr, err)
		}
		if sum.Taken, err = time.Parse(timeLayout, takenStr); err != nil {
			return nil, fmt.Errorf("invalid taken_at timestamp %q: %w", takenStr, err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// Delete removes a snapshot and its points.
// Returns trace.ErrNotFound if the snapshot does not exist.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.stmtDeleteSnapshot.ExecContext(ctx, id.String())
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("snapshot %s: %w", id, trace.ErrNotFound)
	}
	s.logger.Debug("deleted snapshot", "id", id)
	return nil
}
