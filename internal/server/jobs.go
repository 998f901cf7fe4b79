package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/repo-auditor/constants"
	"github.com/joseph-ayodele/repo-auditor/internal/archive"
	"github.com/joseph-ayodele/repo-auditor/internal/common"
	"github.com/joseph-ayodele/repo-auditor/internal/entity"
	"github.com/joseph-ayodele/repo-auditor/internal/orchestrator"
	"github.com/joseph-ayodele/repo-auditor/internal/repository"
)

const maxQueryLength = 4000

// StartJobRequest is a validated "start job" request handed over by the
// transport layer. ArchivePath points at the uploaded file as stored by the
// transport; the service stages its own copy.
type StartJobRequest struct {
	UserID      string
	ArchivePath string
	ArchiveName string // original upload filename, may differ from the stored path
	Query       string
	RepoName    string // optional overrides recorded on the job
	Branch      string
	Commit      string
}

// JobDetails is a job record plus, for completed jobs, the harvested report
// contents keyed by category.
type JobDetails struct {
	Job     *entity.Job
	Reports map[constants.ReportCategory]string
}

// JobsService sequences the synchronous accept phase and hands execution to
// the orchestrator. Errors returned from its methods are gRPC status errors
// ready for the transport layer.
type JobsService struct {
	cfg       *common.Config
	jobs      repository.JobRepository
	extractor *archive.Extractor
	orch      *orchestrator.Orchestrator
	logger    *slog.Logger
}

func NewJobsService(cfg *common.Config, jobs repository.JobRepository, orch *orchestrator.Orchestrator, logger *slog.Logger) *JobsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobsService{
		cfg:       cfg,
		jobs:      jobs,
		extractor: archive.NewExtractor(logger),
		orch:      orch,
		logger:    logger,
	}
}

// StartJob validates the request, stages and extracts the archive, creates
// the persisted record, and launches the execution goroutine. Extraction
// problems fail here, synchronously, before any record exists.
func (s *JobsService) StartJob(ctx context.Context, req StartJobRequest) (*entity.Job, error) {
	v := common.NewValidator().
		Field("user_id", req.UserID, common.Required, common.UUID).
		Field("archive_path", req.ArchivePath, common.Required)
	if rule := common.MaxLength("query", req.Query, maxQueryLength); rule != nil {
		return nil, common.InvalidArgumentError(rule.Error())
	}
	if err := common.ValidateAndReturnError(v); err != nil {
		s.logger.Error("start job request invalid", "error", err)
		return nil, err
	}
	userID, _ := uuid.Parse(req.UserID)

	ext := constants.NormalizeExt(filepath.Ext(req.ArchivePath))
	if _, ok := constants.AllowedArchiveExtensions[ext]; !ok {
		return nil, common.InvalidArgumentErrorf("unsupported archive format %q", ext)
	}

	stagingID := uuid.New().String()
	stagedPath := filepath.Join(s.cfg.Storage.UploadDir, stagingID+"."+ext)
	extractDir := filepath.Join(s.cfg.Storage.UploadDir, "extract-"+stagingID)

	if err := stageFile(req.ArchivePath, stagedPath); err != nil {
		s.logger.Error("failed to stage upload", "path", req.ArchivePath, "error", err)
		return nil, common.InvalidArgumentErrorf("archive unreadable: %v", err)
	}

	if err := s.extractor.Extract(stagedPath, extractDir); err != nil {
		_ = os.Remove(stagedPath)
		_ = os.RemoveAll(extractDir)
		s.logger.Error("archive extraction failed", "path", req.ArchivePath, "error", err)
		return nil, common.InvalidArgumentErrorf("archive extraction failed: %v", err)
	}

	var query *string
	if q := strings.TrimSpace(req.Query); q != "" {
		query = &q
	}
	originalName := req.ArchiveName
	if originalName == "" {
		originalName = filepath.Base(req.ArchivePath)
	}

	job, err := s.jobs.Create(ctx, userID, originalName, query)
	if err != nil {
		_ = os.Remove(stagedPath)
		_ = os.RemoveAll(extractDir)
		return nil, common.InternalError("create job failed")
	}

	if req.RepoName != "" || req.Branch != "" || req.Commit != "" {
		if err := s.jobs.UpdateMetadata(ctx, job.ID, optStr(req.RepoName), optStr(req.Branch), optStr(req.Commit), nil); err != nil {
			s.logger.Warn("failed to record requested metadata", "job_id", job.ID, "error", err)
		}
	}

	up := entity.Upload{
		ArchivePath:      stagedPath,
		OriginalFilename: originalName,
		UploadedAt:       time.Now().UTC(),
	}
	if fi, err := os.Stat(stagedPath); err == nil {
		up.Size = fi.Size()
	}

	if err := s.orch.Launch(job.ID, up, extractDir); err != nil {
		s.logger.Error("failed to launch job", "job_id", job.ID, "error", err)
		msg := err.Error()
		_ = s.jobs.UpdateStatus(ctx, job.ID, constants.JobStatusFailed, repository.StatusUpdate{ErrorMessage: &msg})
		return nil, common.InternalError("launch job failed")
	}

	s.logger.Info("job accepted", "job_id", job.ID, "user_id", userID, "archive", originalName)
	return job, nil
}

// GetJob returns the record and, for completed jobs, the report contents.
func (s *JobsService) GetJob(ctx context.Context, id string) (*JobDetails, error) {
	jobID, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, common.InvalidArgumentError("id must be a UUID")
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NotFoundError("job not found")
		}
		return nil, common.InternalError("get job failed")
	}

	details := &JobDetails{Job: job}
	if job.Status == constants.JobStatusCompleted {
		details.Reports = s.readReports(job)
	}
	return details, nil
}

func (s *JobsService) readReports(job *entity.Job) map[constants.ReportCategory]string {
	out := make(map[constants.ReportCategory]string)
	paths := map[constants.ReportCategory]*string{
		constants.ReportDataFlow:     job.DataFlowPath,
		constants.ReportThreatModel:  job.ThreatModelPath,
		constants.ReportRiskRegister: job.RiskRegisterPath,
	}
	for cat, p := range paths {
		if p == nil {
			continue
		}
		raw, err := os.ReadFile(*p)
		if err != nil {
			s.logger.Warn("report file unreadable", "job_id", job.ID, "path", *p, "error", err)
			continue
		}
		out[cat] = string(raw)
	}
	return out
}

// ListJobs returns jobs for one user, or every job when userID is empty
// (the transport layer restricts that to elevated roles).
func (s *JobsService) ListJobs(ctx context.Context, userID string) ([]*entity.Job, error) {
	if strings.TrimSpace(userID) == "" {
		jobs, err := s.jobs.List(ctx)
		if err != nil {
			return nil, common.InternalError("list jobs failed")
		}
		return jobs, nil
	}

	uid, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil {
		return nil, common.InvalidArgumentError("user_id must be a UUID")
	}
	jobs, err := s.jobs.ListByUser(ctx, uid)
	if err != nil {
		return nil, common.InternalError("list jobs failed")
	}
	return jobs, nil
}

// DeleteJob cancels an in-flight execution, removes the durable report
// directory, and deletes the record. Deleting an unknown id is a NotFound
// outcome, never a crash.
func (s *JobsService) DeleteJob(ctx context.Context, id string) error {
	jobID, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return common.InvalidArgumentError("id must be a UUID")
	}

	if s.orch.Cancel(jobID) {
		s.logger.Info("cancelling running job for deletion", "job_id", jobID)
		select {
		case <-s.orch.Done(jobID):
		case <-ctx.Done():
			s.logger.Warn("gave up waiting for job cancellation", "job_id", jobID)
		}
	}

	if err := s.orch.Harvester().RemoveJobDir(jobID.String()); err != nil {
		s.logger.Warn("failed to remove report dir", "job_id", jobID, "error", err)
	}

	if err := s.jobs.Delete(ctx, jobID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.NotFoundError("job not found")
		}
		return common.InternalError("delete job failed")
	}
	s.logger.Info("job deleted", "job_id", jobID)
	return nil
}

// RecoverInterrupted fails every job left in PROCESSING by an unclean
// shutdown. Run once at startup before accepting work.
func (s *JobsService) RecoverInterrupted(ctx context.Context) (int64, error) {
	return s.jobs.FailInterrupted(ctx, "job interrupted by service restart")
}

func stageFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy upload: %w", err)
	}
	return out.Close()
}

func optStr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
