package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/repo-auditor/constants"
	"github.com/joseph-ayodele/repo-auditor/internal/agent"
	"github.com/joseph-ayodele/repo-auditor/internal/archive"
	"github.com/joseph-ayodele/repo-auditor/internal/common"
	"github.com/joseph-ayodele/repo-auditor/internal/entity"
	"github.com/joseph-ayodele/repo-auditor/internal/repometa"
	"github.com/joseph-ayodele/repo-auditor/internal/reports"
	"github.com/joseph-ayodele/repo-auditor/internal/repository"
	"github.com/joseph-ayodele/repo-auditor/internal/workspace"
)

const errorTailLines = 15

// Orchestrator drives the full lifetime of one audit job: workspace
// preparation, agent supervision, report harvesting, record updates and
// cleanup. One goroutine per launched job; the registry is the only shared
// state between them.
type Orchestrator struct {
	cfg        *common.Config
	logger     *slog.Logger
	jobs       repository.JobRepository
	registry   *Registry
	agentLock  *FIFOMutex
	workspaces *workspace.Manager
	harvester  *reports.Harvester
	runner     *agent.Runner
}

func New(cfg *common.Config, jobs repository.JobRepository, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		jobs:       jobs,
		registry:   NewRegistry(),
		agentLock:  NewFIFOMutex(),
		workspaces: workspace.NewManager(cfg.Storage.WorkDir, logger),
		harvester:  reports.NewHarvester(cfg.Storage.ReportsDir, logger),
		runner:     agent.NewRunner(logger, agent.WithGracePeriod(cfg.Agent.KillGracePeriod)),
	}
}

// Harvester exposes the report directory layout to the service layer.
func (o *Orchestrator) Harvester() *reports.Harvester {
	return o.harvester
}

// Launch registers the job as running and starts its execution goroutine.
// The caller has already staged the archive and extracted it; everything
// from here on is asynchronous and lands on the job record.
func (o *Orchestrator) Launch(jobID uuid.UUID, up entity.Upload, extractDir string) error {
	ctx, cancel := context.WithCancel(common.WithJobID(context.Background(), jobID.String()))
	rj := &RunningJob{
		ID:          jobID,
		Cancel:      cancel,
		ArchivePath: up.ArchivePath,
		ExtractDir:  extractDir,
	}
	if !o.registry.Add(rj) {
		cancel()
		return fmt.Errorf("job %s is already running", jobID)
	}

	go o.run(ctx, rj, up)
	return nil
}

// Cancel fires the cancellation signal for a running job. Returns false
// when no execution is in flight for the id.
func (o *Orchestrator) Cancel(jobID uuid.UUID) bool {
	return o.registry.Cancel(jobID)
}

// Running reports whether an execution is in flight for the id.
func (o *Orchestrator) Running(jobID uuid.UUID) bool {
	_, ok := o.registry.Get(jobID)
	return ok
}

// Done returns a channel closed when the job's goroutine has terminated.
// For ids with no execution in flight the channel is already closed.
func (o *Orchestrator) Done(jobID uuid.UUID) <-chan struct{} {
	if rj, ok := o.registry.Get(jobID); ok {
		return rj.Done()
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Shutdown cancels every running job and waits for their goroutines, up to
// ctx's deadline.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.registry.CancelAll()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for o.registry.Len() > 0 {
		select {
		case <-ctx.Done():
			o.logger.Warn("shutdown interrupted with jobs still running", "running", o.registry.Len())
			return
		case <-ticker.C:
		}
	}
}

// run wraps execute with status handling and the unconditional cleanup
// phase. The registry entry, the workspace, the staged archive and the
// extraction scratch dir are released on every exit path.
func (o *Orchestrator) run(ctx context.Context, rj *RunningJob, up entity.Upload) {
	jobID := rj.ID
	defer func() {
		o.cleanup(rj)
		rj.Cancel()
		o.registry.Remove(jobID)
	}()

	err := o.execute(ctx, rj, up)
	if err == nil {
		return
	}

	if ctx.Err() != nil || errors.Is(err, common.ErrCancelled) {
		// The deletion path owns the persisted record; leave it alone.
		o.logger.Info("orchestrator.cancelled", "job_id", jobID)
		return
	}

	o.logger.Error("orchestrator.failed", "job_id", jobID, "error", err)
	msg := err.Error()
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if uerr := o.jobs.UpdateStatus(persistCtx, jobID, constants.JobStatusFailed, repository.StatusUpdate{
		ErrorMessage: &msg,
	}); uerr != nil {
		o.logger.Error("failed to persist job failure", "job_id", jobID, "error", uerr)
	}
}

func (o *Orchestrator) execute(ctx context.Context, rj *RunningJob, up entity.Upload) error {
	jobID := rj.ID
	start := time.Now()

	if err := o.jobs.UpdateStatus(ctx, jobID, constants.JobStatusProcessing, repository.StatusUpdate{}); err != nil {
		return err
	}

	if err := o.cfg.ValidateAgentCredentials(); err != nil {
		return err
	}
	if err := checkpoint(ctx); err != nil {
		return err
	}

	srcRoot, err := archive.EffectiveRoot(rj.ExtractDir)
	if err != nil {
		return err
	}
	manifest, err := archive.ReadManifest(srcRoot)
	if err != nil {
		return err
	}
	manifestName := ""
	if manifest != nil {
		manifestName = manifest.Name
	}

	repoName := workspace.ResolveRepoName(up.OriginalFilename, manifestName, srcRoot)
	ws, err := o.workspaces.Prepare(jobID.String(), repoName, srcRoot)
	if err != nil {
		return err
	}

	if err := checkpoint(ctx); err != nil {
		return err
	}
	o.persistMetadata(ctx, jobID, ws.RepoName, manifest)

	if err := checkpoint(ctx); err != nil {
		return err
	}

	release, err := o.agentLock.Acquire(ctx)
	if err != nil {
		return common.ErrCancelled
	}
	res, runErr := o.runner.Run(ctx, o.buildInvocation(ws))
	release()

	if runErr != nil {
		if ctx.Err() != nil {
			return common.ErrCancelled
		}
		return runErr
	}

	if err := checkpoint(ctx); err != nil {
		return err
	}

	harvest, err := o.harvester.Collect(jobID.String(), reports.CandidateDirs(ws.Root, ws.RepoDir))
	if err != nil {
		if errors.Is(err, reports.ErrNoReports) {
			if res.ExitCode != 0 {
				return &ExitError{Code: res.ExitCode, Tail: agent.ErrorTail(res.Output, errorTailLines)}
			}
			return fmt.Errorf("agent exited cleanly but wrote no report files: %w", err)
		}
		return err
	}

	var cost *string
	if c := agent.ParseCost(res.Output); c != "" {
		cost = &c
	}
	durationSeconds := int64(time.Since(start).Seconds())
	if err := o.jobs.UpdateExecutionMetrics(ctx, jobID, durationSeconds, cost); err != nil {
		return err
	}

	upd := repository.StatusUpdate{}
	if len(harvest.Copied) > 0 {
		upd.ReportPath = &harvest.Copied[0] // legacy combined-report field
	}
	if p, ok := harvest.ByCategory[constants.ReportDataFlow]; ok {
		upd.DataFlowPath = &p
	}
	if p, ok := harvest.ByCategory[constants.ReportThreatModel]; ok {
		upd.ThreatModelPath = &p
	}
	if p, ok := harvest.ByCategory[constants.ReportRiskRegister]; ok {
		upd.RiskRegisterPath = &p
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, constants.JobStatusCompleted, upd); err != nil {
		return err
	}

	o.logger.Info("orchestrator.completed",
		"job_id", jobID,
		"exit_code", res.ExitCode,
		"reports", len(harvest.Copied),
		"duration_seconds", durationSeconds,
	)
	return nil
}

// persistMetadata is best-effort: a repo without git metadata is normal and
// a metadata write failure must not kill the run.
func (o *Orchestrator) persistMetadata(ctx context.Context, jobID uuid.UUID, repoName string, manifest *archive.Manifest) {
	md := repometa.Detect(filepath.Join(o.cfg.Storage.WorkDir, jobID.String(), repoName), o.logger)
	branch, commit := md.Branch, md.Commit
	var defaultQuery *string
	if manifest != nil {
		if manifest.Branch != "" {
			branch = manifest.Branch
		}
		if manifest.Commit != "" {
			commit = manifest.Commit
		}
		if manifest.Query != "" {
			defaultQuery = strPtr(manifest.Query)
		}
	}
	if err := o.jobs.UpdateMetadata(ctx, jobID, strPtr(repoName), strPtr(branch), strPtr(commit), defaultQuery); err != nil {
		o.logger.Warn("failed to persist repo metadata", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) buildInvocation(ws *workspace.Workspace) agent.Invocation {
	absRoot, err := filepath.Abs(ws.Root)
	if err != nil {
		absRoot = ws.Root
	}

	args := []string{
		"--role", o.cfg.Agent.Role,
		"--source", "./" + ws.RepoName,
		"--api-key", o.cfg.Agent.APIKey,
	}
	env := map[string]string{
		"ANTHROPIC_API_KEY": o.cfg.Agent.APIKey,
	}
	if o.cfg.Agent.BaseURL != "" {
		args = append(args, "--base-url", o.cfg.Agent.BaseURL)
		env["ANTHROPIC_BASE_URL"] = o.cfg.Agent.BaseURL
	}
	if o.cfg.Agent.MaxOutputTokens > 0 {
		env["AGENT_MAX_OUTPUT_TOKENS"] = strconv.Itoa(o.cfg.Agent.MaxOutputTokens)
	}

	return agent.Invocation{
		Binary: o.cfg.Agent.Binary,
		Args:   args,
		Dir:    absRoot,
		Env:    env,
	}
}

// cleanup removes everything the execution acquired. Each step is
// independently best-effort: the job's outcome is already decided.
func (o *Orchestrator) cleanup(rj *RunningJob) {
	if err := o.workspaces.Remove(rj.ID.String()); err != nil {
		o.logger.Warn("cleanup: remove workspace failed", "job_id", rj.ID, "error", err)
	}
	if rj.ArchivePath != "" {
		if err := os.Remove(rj.ArchivePath); err != nil && !os.IsNotExist(err) {
			o.logger.Warn("cleanup: remove archive failed", "job_id", rj.ID, "error", err)
		}
	}
	if rj.ExtractDir != "" {
		if err := os.RemoveAll(rj.ExtractDir); err != nil {
			o.logger.Warn("cleanup: remove extraction dir failed", "job_id", rj.ID, "error", err)
		}
	}
}

func checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return common.ErrCancelled
	}
	return nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
