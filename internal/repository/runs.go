package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/pipeline"
)

const runsTable = "extraction_runs"

var runsDDL = []string{
	`CREATE TABLE IF NOT EXISTS extraction_runs (
	id            VARCHAR(64) PRIMARY KEY,
	filename      TEXT NOT NULL,
	content_hash  VARCHAR(64) NOT NULL,
	format        VARCHAR(16) NOT NULL,
	status        VARCHAR(16) NOT NULL,
	method        VARCHAR(32) NOT NULL DEFAULT '',
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency      VARCHAR(8) NOT NULL DEFAULT '',
	item_count    INTEGER NOT NULL DEFAULT 0,
	valid_items   INTEGER NOT NULL DEFAULT 0,
	net_total     DOUBLE PRECISION NOT NULL DEFAULT 0,
	gross_total   DOUBLE PRECISION NOT NULL DEFAULT 0,
	guidance      TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	result_json   TEXT,
	started_at    BIGINT NOT NULL,
	finished_at   BIGINT
)`,
	`CREATE INDEX IF NOT EXISTS extraction_runs_started_at_idx ON extraction_runs (started_at)`,
	`CREATE INDEX IF NOT EXISTS extraction_runs_content_hash_idx ON extraction_runs (content_hash)`,
}

var runColumns = []string{
	"id", "filename", "content_hash", "format", "status", "method", "confidence",
	"currency", "item_count", "valid_items", "net_total", "gross_total",
	"guidance", "error_message", "result_json", "started_at", "finished_at",
}

// Run is one row of extraction_runs.
type Run struct {
	ID           string
	Filename     string
	ContentHash  string
	Format       string
	Status       constants.RunStatus
	Method       string
	Confidence   float64
	Currency     string
	ItemCount    int
	ValidItems   int
	NetTotal     float64
	GrossTotal   float64
	Guidance     string
	ErrorMessage string
	Result       json.RawMessage // nil until the run finished
	StartedAt    time.Time
	FinishedAt   *time.Time
}

type RunRepository interface {
	Migrate(ctx context.Context) error
	Start(ctx context.Context, id string, doc entity.Document) (*Run, error)
	Finish(ctx context.Context, res *pipeline.Result) error
	Fail(ctx context.Context, id, message string) error
	Get(ctx context.Context, id string) (*Run, error)
	ListRecent(ctx context.Context, limit int) ([]*Run, error)
}

type runRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewRunRepository(db *DB, log *slog.Logger) RunRepository {
	if log == nil {
		log = slog.Default()
	}
	return &runRepo{db: db, log: log, now: time.Now}
}

func (r *runRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.dialect)
}

// Migrate creates the runs table and its indexes when missing.
func (r *runRepo) Migrate(ctx context.Context) error {
	for _, stmt := range runsDDL {
		if err := r.db.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("migrate %s: %w", runsTable, err)
		}
	}
	return nil
}

func (r *runRepo) Start(ctx context.Context, id string, doc entity.Document) (*Run, error) {
	run := &Run{
		ID:          id,
		Filename:    doc.Filename,
		ContentHash: doc.ContentHash(),
		Format:      doc.Format(),
		Status:      constants.RunStatusRunning,
		StartedAt:   r.now().UTC().Truncate(time.Millisecond),
	}
	q, args := r.builder().Insert(runsTable).
		Columns("id", "filename", "content_hash", "format", "status", "started_at").
		Values(run.ID, run.Filename, run.ContentHash, run.Format, string(run.Status), run.StartedAt.UnixMilli()).
		Query()
	if err := r.db.drv.Exec(ctx, q, args, nil); err != nil {
		r.log.Error("run.start_failed", "run_id", id, "error", err)
		return nil, common.NewAppError("RUN_START", "insert run", fmt.Errorf("%w: %w", common.ErrDatabase, err))
	}
	r.log.Info("run.started", "run_id", id, "document", doc.Filename, "format", run.Format)
	return run, nil
}

func (r *runRepo) Finish(ctx context.Context, res *pipeline.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	q, args := r.builder().Update(runsTable).
		Set("status", string(res.Status)).
		Set("method", res.Extraction.Method).
		Set("confidence", res.Extraction.Confidence).
		Set("currency", res.Invoice.Currency).
		Set("item_count", len(res.Invoice.LineItems)).
		Set("valid_items", res.Invoice.Validation.ValidItems).
		Set("net_total", res.Invoice.Totals.Net).
		Set("gross_total", res.Invoice.Totals.Gross).
		Set("guidance", res.Guidance).
		Set("result_json", string(payload)).
		Set("finished_at", r.now().UTC().UnixMilli()).
		Where(entsql.EQ("id", res.RunID)).
		Query()
	if err := r.exec(ctx, res.RunID, q, args); err != nil {
		r.log.Error("run.finish_failed", "run_id", res.RunID, "error", err)
		return err
	}
	r.log.Info("run.finished", "run_id", res.RunID, "status", res.Status)
	return nil
}

func (r *runRepo) Fail(ctx context.Context, id, message string) error {
	q, args := r.builder().Update(runsTable).
		Set("status", string(constants.RunStatusFailed)).
		Set("error_message", message).
		Set("finished_at", r.now().UTC().UnixMilli()).
		Where(entsql.EQ("id", id)).
		Query()
	if err := r.exec(ctx, id, q, args); err != nil {
		r.log.Error("run.fail_failed", "run_id", id, "error", err)
		return err
	}
	r.log.Warn("run.failed", "run_id", id, "error", message)
	return nil
}

// exec runs an update that must touch exactly the row id.
func (r *runRepo) exec(ctx context.Context, id, q string, args []any) error {
	var res sql.Result
	if err := r.db.drv.Exec(ctx, q, args, &res); err != nil {
		return common.NewAppError("RUN_UPDATE", "update run", fmt.Errorf("%w: %w", common.ErrDatabase, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.NewAppError("RUN_NOT_FOUND", "run "+id, common.ErrNotFound)
	}
	return nil
}

func (r *runRepo) Get(ctx context.Context, id string) (*Run, error) {
	q, args := r.builder().Select(runColumns...).
		From(entsql.Table(runsTable)).
		Where(entsql.EQ("id", id)).
		Query()
	runs, err := r.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, common.NewAppError("RUN_NOT_FOUND", "run "+id, common.ErrNotFound)
	}
	return runs[0], nil
}

// ListRecent returns up to limit runs, newest first. limit <= 0 means 50.
func (r *runRepo) ListRecent(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	q, args := r.builder().Select(runColumns...).
		From(entsql.Table(runsTable)).
		OrderBy(entsql.Desc("started_at"), entsql.Desc("id")).
		Limit(limit).
		Query()
	return r.query(ctx, q, args)
}

func (r *runRepo) query(ctx context.Context, q string, args []any) ([]*Run, error) {
	rows := &entsql.Rows{}
	if err := r.db.drv.Query(ctx, q, args, rows); err != nil {
		return nil, common.NewAppError("RUN_QUERY", "query runs", fmt.Errorf("%w: %w", common.ErrDatabase, err))
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		var (
			run                   Run
			status                string
			items, valid, started int64
			result                sql.NullString
			finished              sql.NullInt64
		)
		if err := rows.Scan(
			&run.ID, &run.Filename, &run.ContentHash, &run.Format, &status, &run.Method, &run.Confidence,
			&run.Currency, &items, &valid, &run.NetTotal, &run.GrossTotal,
			&run.Guidance, &run.ErrorMessage, &result, &started, &finished,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = constants.RunStatus(status)
		run.ItemCount, run.ValidItems = int(items), int(valid)
		run.StartedAt = time.UnixMilli(started).UTC()
		if result.Valid {
			run.Result = json.RawMessage(result.String)
		}
		if finished.Valid {
			t := time.UnixMilli(finished.Int64).UTC()
			run.FinishedAt = &t
		}
		out = append(out, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
