package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/phasetrace/internal/moment"
	"github.com/roach88/phasetrace/internal/phase"
)

const runColumns = `id, seq, experiment, name, host_dir, resolver_dir, cloud_ip, gate_opened_ns,
	moments, ignored, consumed, spawned, dropped, unfinished`

// ReadRun returns the run with the given ID, or ErrRunNotFound.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns every run in insertion order.
// Returns an empty slice (not nil) when the store is empty.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recently written run, or ErrRunNotFound.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY seq DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("latest run: %w", ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run  Run
		gate sql.NullInt64
	)
	err := sc.Scan(
		&run.ID,
		&run.Seq,
		&run.Experiment,
		&run.Name,
		&run.HostDir,
		&run.ResolverDir,
		&run.CloudIP,
		&gate,
		&run.Stats.Moments,
		&run.Stats.Ignored,
		&run.Stats.Consumed,
		&run.Stats.Spawned,
		&run.Stats.Dropped,
		&run.Stats.Unfinished,
	)
	if err != nil {
		return Run{}, err
	}
	run.GateOpenedAt = fromNullableNanos(gate)
	return run, nil
}

// ReadMoments returns a run's timeline in scan order.
// Returns an empty slice (not nil) if the run has no moments.
func (s *Store) ReadMoments(ctx context.Context, runID string) ([]moment.Moment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, source, from_ep, to_ep, time_ns, metadata
		FROM moments
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query moments: %w", err)
	}
	defer rows.Close()

	moments := []moment.Moment{}
	for rows.Next() {
		var (
			m      moment.Moment
			source string
			nanos  int64
			meta   string
		)
		if err := rows.Scan(&m.Name, &source, &m.From, &m.To, &nanos, &meta); err != nil {
			return nil, fmt.Errorf("scan moment: %w", err)
		}
		m.Source = moment.Role(source)
		m.Time = time.Unix(0, nanos).UTC()
		if m.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, err
		}
		moments = append(moments, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moments: %w", err)
	}
	return moments, nil
}

// ReadPhases returns a run's phases in completion order with their
// stages in pipeline order.
// Returns an empty slice (not nil) if the run has no phases.
func (s *Store) ReadPhases(ctx context.Context, runID string) ([]phase.Output, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.seq, p.host, p.resolver, s.name, s.start_ns, s.end_ns
		FROM phases p
		LEFT JOIN stages s ON s.run_id = p.run_id AND s.phase_seq = p.seq
		WHERE p.run_id = ?
		ORDER BY p.ord ASC, s.idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query phases: %w", err)
	}
	defer rows.Close()

	outputs := []phase.Output{}
	for rows.Next() {
		var (
			seq            int64
			host, resolver string
			name           sql.NullString
			start, end     sql.NullInt64
		)
		if err := rows.Scan(&seq, &host, &resolver, &name, &start, &end); err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}

		if n := len(outputs); n == 0 || outputs[n-1].Seq != seq {
			outputs = append(outputs, phase.Output{
				Seq:      seq,
				Host:     moment.Role(host),
				Resolver: moment.Role(resolver),
			})
		}
		if !name.Valid {
			continue
		}
		out := &outputs[len(outputs)-1]
		out.Stages = append(out.Stages, phase.Stage{
			Name: name.String,
			Span: phase.Span{
				Start: fromNullableNanos(start),
				End:   fromNullableNanos(end),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phases: %w", err)
	}
	return outputs, nil
}

func fromNullableNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64).UTC()
}

func unmarshalMetadata(s string) (map[string]string, error) {
	var meta map[string]string
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}
