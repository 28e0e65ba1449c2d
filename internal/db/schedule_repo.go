package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"emobridge/internal/schedule"
	"emobridge/internal/types"
)

// ============================================================
// ScheduleRepository
// ============================================================

// Columns are TEXT so a row holds exactly what an operator typed, the same as
// a line of the CSV source. Rows that do not parse are skipped on load.
const createScheduleTableSQL = `CREATE TABLE IF NOT EXISTS schedule_entries (
	id            BIGSERIAL PRIMARY KEY,
	datetime_str  TEXT,
	text_to_speak TEXT
)`

// ScheduleRepository is the PostgreSQL schedule source. It satisfies the same
// contract as the CSV store: stateless per Load, bootstrap when absent,
// append-only writes.
type ScheduleRepository struct {
	db           DBTX
	loc          *time.Location
	clock        types.Clock
	firstOffset  time.Duration
	secondOffset time.Duration
	logger       *slog.Logger
}

// ScheduleRepositoryConfig configures a ScheduleRepository.
type ScheduleRepositoryConfig struct {
	Location     *time.Location
	Clock        types.Clock
	FirstOffset  time.Duration
	SecondOffset time.Duration
	Logger       *slog.Logger
}

// NewScheduleRepository creates a repository backed by the given connection.
func NewScheduleRepository(db DBTX, cfg ScheduleRepositoryConfig) *ScheduleRepository {
	r := &ScheduleRepository{
		db:           db,
		loc:          cfg.Location,
		clock:        cfg.Clock,
		firstOffset:  cfg.FirstOffset,
		secondOffset: cfg.SecondOffset,
		logger:       cfg.Logger,
	}
	if r.loc == nil {
		r.loc = time.Local
	}
	if r.clock == nil {
		r.clock = types.RealClock{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.firstOffset <= 0 {
		r.firstOffset = 30 * time.Second
	}
	if r.secondOffset <= 0 {
		r.secondOffset = 60 * time.Second
	}
	return r
}

// Load reads every row in insertion order. When the table does not exist it
// is created and seeded with the two example entries first.
func (r *ScheduleRepository) Load(ctx context.Context) (schedule.LoadResult, error) {
	var res schedule.LoadResult

	exists, err := r.tableExists(ctx)
	if err != nil {
		return res, err
	}
	if !exists {
		if err := r.bootstrap(ctx); err != nil {
			return res, err
		}
		res.Bootstrapped = true
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, datetime_str, text_to_speak FROM schedule_entries ORDER BY id`)
	if err != nil {
		return res, types.NewAppError(types.ErrCodeInternalDB, "failed to query schedule entries", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			dt   *string
			text *string
		)
		if err := rows.Scan(&id, &dt, &text); err != nil {
			return res, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schedule entry", err)
		}
		if dt == nil || text == nil {
			res.Skipped++
			r.logger.WarnContext(ctx, "skipping schedule row with missing column", "row_id", id)
			continue
		}
		entry, err := types.ParseScheduleRow([]string{*dt, *text}, r.loc)
		if err != nil {
			res.Skipped++
			r.logger.WarnContext(ctx, "skipping malformed schedule row", "row_id", id, "error", err)
			continue
		}
		res.Entries = append(res.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return res, types.NewAppError(types.ErrCodeInternalDB, "error iterating schedule entries", err)
	}

	return res, nil
}

// Append inserts one row, creating the table (without example rows) if needed.
func (r *ScheduleRepository) Append(ctx context.Context, entry types.ScheduleEntry) error {
	if _, err := r.db.Exec(ctx, createScheduleTableSQL); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to ensure schedule table", err)
	}

	row := types.FormatScheduleRow(entry.In(r.loc))
	if _, err := r.db.Exec(ctx,
		`INSERT INTO schedule_entries (datetime_str, text_to_speak) VALUES ($1, $2)`,
		row[0], row[1],
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert schedule entry", err)
	}

	r.logger.InfoContext(ctx, "schedule row appended", "trigger_at", row[0])
	return nil
}

func (r *ScheduleRepository) tableExists(ctx context.Context) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT to_regclass('schedule_entries') IS NOT NULL`).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check schedule table", err)
	}
	return exists, nil
}

// bootstrap creates the table and seeds the example rows. The seed insert is
// guarded by NOT EXISTS so concurrent bootstraps produce one pair of rows.
func (r *ScheduleRepository) bootstrap(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createScheduleTableSQL); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create schedule table", err)
	}

	entries := types.BootstrapEntries(r.clock.Now().In(r.loc), r.firstOffset, r.secondOffset)
	first := types.FormatScheduleRow(entries[0])
	second := types.FormatScheduleRow(entries[1])

	tag, err := r.db.Exec(ctx,
		`INSERT INTO schedule_entries (datetime_str, text_to_speak)
		 SELECT v.datetime_str, v.text_to_speak
		 FROM (VALUES ($1::text, $2::text, 1), ($3::text, $4::text, 2)) AS v(datetime_str, text_to_speak, ord)
		 WHERE NOT EXISTS (SELECT 1 FROM schedule_entries)
		 ORDER BY v.ord`,
		first[0], first[1], second[0], second[1],
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to seed schedule table", err)
	}

	r.logger.InfoContext(ctx, "schedule table bootstrapped", "rows", tag.RowsAffected())
	return nil
}

var _ schedule.Store = (*ScheduleRepository)(nil)

// String identifies the source in logs.
func (r *ScheduleRepository) String() string {
	return fmt.Sprintf("postgres(schedule_entries, %s)", r.loc)
}
