package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/phasetrace/internal/moment"
	"github.com/roach88/phasetrace/internal/phase"
)

// WriteRunAll records a run together with its scanned timeline and its
// completed phases in one transaction. Either everything is stored or
// nothing is.
//
// The run gets the next sequence number. Rewriting an existing run ID, or
// the same moment and phase positions, is a no-op.
func (s *Store) WriteRunAll(ctx context.Context, run Run, moments []moment.Moment, outputs []phase.Output) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run %s: begin tx: %w", run.ID, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := writeRun(ctx, tx, run); err != nil {
		return err
	}
	if err := writeMoments(ctx, tx, run.ID, moments); err != nil {
		return err
	}
	if err := writePhases(ctx, tx, run.ID, outputs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run %s: commit: %w", run.ID, err)
	}
	return nil
}

func writeRun(ctx context.Context, tx *sql.Tx, run Run) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, experiment, name, host_dir, resolver_dir, cloud_ip, gate_opened_ns,
		 moments, ignored, consumed, spawned, dropped, unfinished)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM runs), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Experiment,
		run.Name,
		run.HostDir,
		run.ResolverDir,
		run.CloudIP,
		nullableNanos(run.GateOpenedAt),
		run.Stats.Moments,
		run.Stats.Ignored,
		run.Stats.Consumed,
		run.Stats.Spawned,
		run.Stats.Dropped,
		run.Stats.Unfinished,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// writeMoments stores the timeline of a run. Moment i gets seq i+1.
// The run must exist (foreign key constraint).
func writeMoments(ctx context.Context, tx *sql.Tx, runID string, moments []moment.Moment) error {
	if len(moments) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO moments
		(run_id, seq, id, name, source, from_ep, to_ep, time_ns, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write moments: prepare: %w", err)
	}
	defer stmt.Close()

	for i, m := range moments {
		id, err := m.ID()
		if err != nil {
			return fmt.Errorf("write moments: moment %d: %w", i, err)
		}
		meta, err := marshalMetadata(m.Metadata)
		if err != nil {
			return fmt.Errorf("write moments: moment %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx,
			runID,
			i+1,
			id,
			m.Name,
			string(m.Source),
			m.From,
			m.To,
			m.Time.UnixNano(),
			meta,
		); err != nil {
			return fmt.Errorf("write moments: moment %d: %w", i, err)
		}
	}
	return nil
}

// writePhases stores completed phases in the given (completion) order,
// with their stages in pipeline order.
func writePhases(ctx context.Context, tx *sql.Tx, runID string, outputs []phase.Output) error {
	for ord, out := range outputs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO phases (run_id, seq, ord, host, resolver)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(run_id, seq) DO NOTHING
		`, runID, out.Seq, ord+1, string(out.Host), string(out.Resolver)); err != nil {
			return fmt.Errorf("write phases: phase %d: %w", out.Seq, err)
		}

		for idx, st := range out.Stages {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO stages (run_id, phase_seq, idx, name, start_ns, end_ns)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(run_id, phase_seq, idx) DO NOTHING
			`, runID, out.Seq, idx, st.Name, st.Start.UnixNano(), nullableNanos(st.End)); err != nil {
				return fmt.Errorf("write phases: phase %d stage %q: %w", out.Seq, st.Name, err)
			}
		}
	}
	return nil
}

// nullableNanos stores the zero time as NULL.
func nullableNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// marshalMetadata stores metadata as canonical JSON so identical moments
// produce byte-identical rows.
func marshalMetadata(meta map[string]string) (string, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	data, err := moment.MarshalCanonical(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}
