package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/repo-auditor/constants"
	"github.com/joseph-ayodele/repo-auditor/internal/common"
	"github.com/joseph-ayodele/repo-auditor/internal/entity"
)

// StatusUpdate carries the optional columns written alongside a status
// transition. Nil fields are left untouched.
type StatusUpdate struct {
	ReportPath       *string
	DataFlowPath     *string
	ThreatModelPath  *string
	RiskRegisterPath *string
	ErrorMessage     *string
}

type JobRepository interface {
	Create(ctx context.Context, userID uuid.UUID, repoPath string, query *string) (*entity.Job, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	List(ctx context.Context) ([]*entity.Job, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.JobStatus, upd StatusUpdate) error
	UpdateMetadata(ctx context.Context, id uuid.UUID, repoName, branch, commit, defaultQuery *string) error
	UpdateExecutionMetrics(ctx context.Context, id uuid.UUID, durationSeconds int64, cost *string) error
	Delete(ctx context.Context, id uuid.UUID) error
	FailInterrupted(ctx context.Context, message string) (int64, error)
	Count(ctx context.Context) (int64, error)
}

type jobRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewJobRepository(pool *pgxpool.Pool, logger *slog.Logger) JobRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &jobRepo{pool: pool, logger: logger}
}

const jobColumns = `id, user_id, repo_path, query, status, report_path, data_flow_path,
threat_model_path, risk_register_path, error_message, repo_name, branch, commit_hash,
duration_seconds, cost, created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*entity.Job, error) {
	var j entity.Job
	err := row.Scan(
		&j.ID, &j.UserID, &j.RepoPath, &j.Query, &j.Status,
		&j.ReportPath, &j.DataFlowPath, &j.ThreatModelPath, &j.RiskRegisterPath,
		&j.ErrorMessage, &j.RepoName, &j.Branch, &j.Commit,
		&j.DurationSeconds, &j.Cost,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *jobRepo) Create(ctx context.Context, userID uuid.UUID, repoPath string, query *string) (*entity.Job, error) {
	id := uuid.New()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO audit_job (id, user_id, repo_path, query, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+jobColumns,
		id, userID, repoPath, query, constants.JobStatusPending,
	)
	j, err := scanJob(row)
	if err != nil {
		r.logger.Error("audit_job create failed", "user_id", userID, "error", err)
		return nil, common.WrapError(err, "create job")
	}
	r.logger.Info("audit_job created", "job_id", j.ID, "user_id", userID)
	return j, nil
}

func (r *jobRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM audit_job WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		r.logger.Error("audit_job get failed", "job_id", id, "error", err)
		return nil, common.WrapError(err, "get job")
	}
	return j, nil
}

func (r *jobRepo) List(ctx context.Context) ([]*entity.Job, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM audit_job ORDER BY created_at DESC`)
	if err != nil {
		r.logger.Error("audit_job list failed", "error", err)
		return nil, common.WrapError(err, "list jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *jobRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.Job, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM audit_job WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		r.logger.Error("audit_job list failed", "user_id", userID, "error", err)
		return nil, common.WrapError(err, "list jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]*entity.Job, error) {
	var out []*entity.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, common.WrapError(err, "scan job")
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateStatus writes the transition and keeps the completed_at invariant:
// set exactly when the status is terminal, cleared otherwise.
func (r *jobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.JobStatus, upd StatusUpdate) error {
	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE audit_job SET
			status             = $2,
			report_path        = COALESCE($3, report_path),
			data_flow_path     = COALESCE($4, data_flow_path),
			threat_model_path  = COALESCE($5, threat_model_path),
			risk_register_path = COALESCE($6, risk_register_path),
			error_message      = COALESCE($7, error_message),
			completed_at       = $8,
			updated_at         = now()
		WHERE id = $1`,
		id, status, upd.ReportPath, upd.DataFlowPath, upd.ThreatModelPath,
		upd.RiskRegisterPath, upd.ErrorMessage, completedAt,
	)
	if err != nil {
		r.logger.Error("audit_job status update failed", "job_id", id, "status", status, "error", err)
		return common.WrapError(err, "update job status")
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	r.logger.Info("audit_job status updated", "job_id", id, "status", status)
	return nil
}

// UpdateMetadata fills columns from non-nil arguments. defaultQuery only
// applies when the row has no query yet, so a caller-supplied query is never
// overwritten by a manifest default.
func (r *jobRepo) UpdateMetadata(ctx context.Context, id uuid.UUID, repoName, branch, commit, defaultQuery *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE audit_job SET
			repo_name   = COALESCE($2, repo_name),
			branch      = COALESCE($3, branch),
			commit_hash = COALESCE($4, commit_hash),
			query       = COALESCE(query, $5),
			updated_at  = now()
		WHERE id = $1`,
		id, repoName, branch, commit, defaultQuery,
	)
	if err != nil {
		r.logger.Error("audit_job metadata update failed", "job_id", id, "error", err)
		return common.WrapError(err, "update job metadata")
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *jobRepo) UpdateExecutionMetrics(ctx context.Context, id uuid.UUID, durationSeconds int64, cost *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE audit_job SET
			duration_seconds = $2,
			cost             = COALESCE($3, cost),
			updated_at       = now()
		WHERE id = $1`,
		id, durationSeconds, cost,
	)
	if err != nil {
		r.logger.Error("audit_job metrics update failed", "job_id", id, "error", err)
		return common.WrapError(err, "update job metrics")
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *jobRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_job WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("audit_job delete failed", "job_id", id, "error", err)
		return common.WrapError(err, "delete job")
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	r.logger.Info("audit_job deleted", "job_id", id)
	return nil
}

// FailInterrupted marks every PROCESSING row as FAILED. Run at startup: a
// row can only still be PROCESSING after a crash or unclean shutdown.
func (r *jobRepo) FailInterrupted(ctx context.Context, message string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE audit_job SET
			status        = $1,
			error_message = $2,
			completed_at  = now(),
			updated_at    = now()
		WHERE status = $3`,
		constants.JobStatusFailed, message, constants.JobStatusProcessing,
	)
	if err != nil {
		r.logger.Error("audit_job interrupted sweep failed", "error", err)
		return 0, common.WrapError(err, "fail interrupted jobs")
	}
	if n := tag.RowsAffected(); n > 0 {
		r.logger.Warn("marked interrupted jobs as failed", "count", n)
		return n, nil
	}
	return 0, nil
}

func (r *jobRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM audit_job`).Scan(&n); err != nil {
		return 0, common.WrapError(err, "count jobs")
	}
	return n, nil
}
