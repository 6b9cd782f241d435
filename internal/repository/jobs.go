package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/entity"
)

const jobsTable = "jobs"

var jobColumns = []string{"id", "owner_id", "artifact_ref", "status", "output", "error", "created_at", "updated_at"}

// Predicate is the compare half of ConditionalUpdate. Nil fields are not checked.
type Predicate struct {
	Status  *constants.JobStatus
	OwnerID *string
}

// Patch is the swap half of ConditionalUpdate. Output and Error are written
// as given, so a nil value clears the column.
type Patch struct {
	Status constants.JobStatus
	Output json.RawMessage
	Error  *string
}

// Order is the created_at ordering of List results.
type Order int

const (
	CreatedDesc Order = iota
	CreatedAsc
)

// Filter narrows List. Zero values match everything.
type Filter struct {
	OwnerID  string
	Statuses []constants.JobStatus
	Limit    int
}

// StatusPtr is a convenience for building predicates.
func StatusPtr(s constants.JobStatus) *constants.JobStatus { return &s }

type JobRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	Insert(ctx context.Context, job *entity.Job) (*entity.Job, error)
	// ConditionalUpdate applies patch only if the row still matches pred.
	// It returns matched=false (and no error) when it does not.
	ConditionalUpdate(ctx context.Context, id uuid.UUID, pred Predicate, patch Patch) (*entity.Job, bool, error)
	List(ctx context.Context, filter Filter, order Order) ([]entity.Job, error)
	ListJobsForOwner(ctx context.Context, ownerID string) ([]entity.Job, error)
	CountByStatus(ctx context.Context) (map[constants.JobStatus]int, error)
}

type jobRepo struct {
	db      *sql.DB
	dialect string
	clock   *microClock
	log     *slog.Logger
}

func NewJobRepository(db *DB, log *slog.Logger) JobRepository {
	return newJobRepo(db.SQL, db.Dialect, log)
}

func newJobRepo(db *sql.DB, dialect string, log *slog.Logger) *jobRepo {
	return &jobRepo{db: db, dialect: dialect, clock: newMicroClock(time.Now), log: common.OrDefault(log)}
}

func (r *jobRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.dialect)
}

func (r *jobRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return r.get(ctx, r.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *jobRepo) get(ctx context.Context, q queryer, id uuid.UUID) (*entity.Job, error) {
	query, args := r.builder().
		Select(jobColumns...).
		From(entsql.Table(jobsTable)).
		Where(entsql.EQ("id", id.String())).
		Query()

	job, err := scanJob(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		r.log.Error("job get failed", "job_id", id, "err", err)
		return nil, fmt.Errorf("get job %s: %w: %w", id, common.ErrDatabase, err)
	}
	return job, nil
}

func (r *jobRepo) Insert(ctx context.Context, job *entity.Job) (*entity.Job, error) {
	if job == nil {
		return nil, fmt.Errorf("insert job: %w", common.ErrInvalidInput)
	}
	if !job.Status.IsClaimable() {
		return nil, fmt.Errorf("insert job with status %q: %w", job.Status, common.ErrInvalidInput)
	}
	if err := job.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("insert job: %w: %w", common.ErrInvalidInput, err)
	}

	out := *job
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	now := r.clock.Next()
	out.CreatedAt, out.UpdatedAt = now, now

	query, args := r.builder().
		Insert(jobsTable).
		Columns(jobColumns...).
		Values(out.ID.String(), out.OwnerID, out.ArtifactRef, string(out.Status), nil, nil, now.UnixMicro(), now.UnixMicro()).
		Query()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.log.Error("job insert failed", "owner_id", out.OwnerID, "err", err)
		return nil, fmt.Errorf("insert job: %w: %w", common.ErrDatabase, err)
	}
	r.log.Info("job inserted", "job_id", out.ID, "owner_id", out.OwnerID, "status", out.Status)
	return &out, nil
}

func (r *jobRepo) ConditionalUpdate(ctx context.Context, id uuid.UUID, pred Predicate, patch Patch) (*entity.Job, bool, error) {
	if err := validatePatch(pred, patch); err != nil {
		return nil, false, err
	}

	upd := r.builder().
		Update(jobsTable).
		Set("status", string(patch.Status)).
		Set("updated_at", r.nextUpdatedAt())
	if len(patch.Output) > 0 {
		upd.Set("output", string(patch.Output))
	} else {
		upd.SetNull("output")
	}
	if patch.Error != nil {
		upd.Set("error", *patch.Error)
	} else {
		upd.SetNull("error")
	}

	preds := []*entsql.Predicate{entsql.EQ("id", id.String())}
	if pred.Status != nil {
		preds = append(preds, entsql.EQ("status", string(*pred.Status)))
	}
	if pred.OwnerID != nil {
		preds = append(preds, entsql.EQ("owner_id", *pred.OwnerID))
	}
	query, args := upd.Where(entsql.And(preds...)).Query()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.log.Error("job update begin failed", "job_id", id, "err", err)
		return nil, false, fmt.Errorf("update job %s: %w: %w", id, common.ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.log.Error("job conditional update failed", "job_id", id, "err", err)
		return nil, false, fmt.Errorf("update job %s: %w: %w", id, common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("update job %s: %w: %w", id, common.ErrDatabase, err)
	}
	if n == 0 {
		r.log.Debug("job conditional update not matched", "job_id", id, "to", patch.Status)
		return nil, false, nil
	}

	job, err := r.get(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		r.log.Error("job update commit failed", "job_id", id, "err", err)
		return nil, false, fmt.Errorf("update job %s: %w: %w", id, common.ErrDatabase, err)
	}
	r.log.Info("job updated", "job_id", id, "status", job.Status)
	return job, true, nil
}

// nextUpdatedAt picks the new updated_at inside the UPDATE: the local clock,
// or one past the stored value when the row was last written by a writer whose
// clock runs ahead of ours.
func (r *jobRepo) nextUpdatedAt() entsql.Querier {
	micros := r.clock.Next().UnixMicro()
	return entsql.ExprFunc(func(b *entsql.Builder) {
		b.WriteString("CASE WHEN ").Ident("updated_at").WriteOp(entsql.OpGTE).Arg(micros).
			WriteString(" THEN ").Ident("updated_at").WriteOp(entsql.OpAdd).Arg(int64(1)).
			WriteString(" ELSE ").Arg(micros).WriteString(" END")
	})
}

func validatePatch(pred Predicate, patch Patch) error {
	if patch.Status.IsClaimable() {
		return fmt.Errorf("patch cannot move a job back to %q: %w", patch.Status, common.ErrInvalidInput)
	}
	if pred.Status != nil && !constants.CanTransition(*pred.Status, patch.Status) {
		return fmt.Errorf("transition %s -> %s: %w", *pred.Status, patch.Status, common.ErrInvalidInput)
	}
	probe := entity.Job{Status: patch.Status, Output: patch.Output, Error: patch.Error}
	if err := probe.CheckInvariants(); err != nil {
		return fmt.Errorf("patch: %w: %w", common.ErrInvalidInput, err)
	}
	return nil
}

func (r *jobRepo) List(ctx context.Context, filter Filter, order Order) ([]entity.Job, error) {
	sel := r.builder().
		Select(jobColumns...).
		From(entsql.Table(jobsTable))

	var preds []*entsql.Predicate
	if filter.OwnerID != "" {
		preds = append(preds, entsql.EQ("owner_id", filter.OwnerID))
	}
	if len(filter.Statuses) > 0 {
		vals := make([]any, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			vals = append(vals, string(s))
		}
		preds = append(preds, entsql.In("status", vals...))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	if order == CreatedAsc {
		sel.OrderBy(entsql.Asc("created_at"), entsql.Asc("id"))
	} else {
		sel.OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	}
	if filter.Limit > 0 {
		sel.Limit(filter.Limit)
	}

	query, args := sel.Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.log.Error("job list failed", "owner_id", filter.OwnerID, "err", err)
		return nil, fmt.Errorf("list jobs: %w: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var jobs []entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w: %w", common.ErrDatabase, err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w: %w", common.ErrDatabase, err)
	}
	return jobs, nil
}

func (r *jobRepo) ListJobsForOwner(ctx context.Context, ownerID string) ([]entity.Job, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("list jobs: owner required: %w", common.ErrInvalidInput)
	}
	return r.List(ctx, Filter{OwnerID: ownerID}, CreatedDesc)
}

func (r *jobRepo) CountByStatus(ctx context.Context) (map[constants.JobStatus]int, error) {
	query, args := r.builder().
		Select("status", entsql.Count("*")).
		From(entsql.Table(jobsTable)).
		GroupBy("status").
		Query()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.log.Error("job count failed", "err", err)
		return nil, fmt.Errorf("count jobs: %w: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	counts := make(map[constants.JobStatus]int, len(constants.AllJobStatuses))
	for _, s := range constants.AllJobStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count jobs: %w: %w", common.ErrDatabase, err)
		}
		counts[constants.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs: %w: %w", common.ErrDatabase, err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		id, owner, ref, status string
		output, errMsg         sql.NullString
		created, updated       int64
	)
	if err := row.Scan(&id, &owner, &ref, &status, &output, &errMsg, &created, &updated); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad job id %q: %w", id, err)
	}
	job := &entity.Job{
		ID:          parsed,
		OwnerID:     owner,
		ArtifactRef: ref,
		Status:      constants.JobStatus(status),
		CreatedAt:   time.UnixMicro(created).UTC(),
		UpdatedAt:   time.UnixMicro(updated).UTC(),
	}
	if output.Valid {
		job.Output = json.RawMessage(output.String)
	}
	if errMsg.Valid {
		msg := errMsg.String
		job.Error = &msg
	}
	return job, nil
}

// microClock hands out strictly increasing microsecond timestamps so two
// writes in this process never share an updated_at.
type microClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func newMicroClock(now func() time.Time) *microClock {
	return &microClock{now: now}
}

func (c *microClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	micros := c.now().UnixMicro()
	if micros <= c.last {
		micros = c.last + 1
	}
	c.last = micros
	return time.UnixMicro(micros).UTC()
}
