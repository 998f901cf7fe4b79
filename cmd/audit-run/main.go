package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/repo-auditor/constants"
	"github.com/joseph-ayodele/repo-auditor/internal/common"
	"github.com/joseph-ayodele/repo-auditor/internal/export"
	"github.com/joseph-ayodele/repo-auditor/internal/orchestrator"
	repo "github.com/joseph-ayodele/repo-auditor/internal/repository"
	"github.com/joseph-ayodele/repo-auditor/internal/server"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	// Parse CLI flags
	var (
		archive  = flag.String("archive", "", "path to the codebase archive to audit (required)")
		userStr  = flag.String("user", "", "user UUID to record on the job (optional, generated if empty)")
		query    = flag.String("query", "", "optional focus query passed to the analysis agent")
		repoName = flag.String("repo-name", "", "repository name override")
		branch   = flag.String("branch", "", "branch name override")
		commit   = flag.String("commit", "", "commit hash override")
		register = flag.String("register", "", "write an XLSX jobs register to this path after the run")
		fromStr  = flag.String("from", "", "register window start, YYYY-MM-DD")
		toStr    = flag.String("to", "", "register window end, YYYY-MM-DD")
	)
	flag.Parse()

	// Validate required flags
	if *archive == "" {
		printError("Error: --archive is required\n")
		os.Exit(1)
	}

	// Parse date filters for the register export
	var from, to *time.Time
	if *fromStr != "" {
		if parsed, err := time.Parse("2006-01-02", *fromStr); err != nil {
			printError("Error: invalid --from date format, use YYYY-MM-DD: %v\n", err)
			os.Exit(1)
		} else {
			from = &parsed
		}
	}
	if *toStr != "" {
		if parsed, err := time.Parse("2006-01-02", *toStr); err != nil {
			printError("Error: invalid --to date format, use YYYY-MM-DD: %v\n", err)
			os.Exit(1)
		} else {
			to = &parsed
		}
	}
	if *userStr == "" {
		*userStr = uuid.New().String()
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer server.CloseDB(pool, logger)

	jobsRepo := repo.NewJobRepository(pool, logger)
	orch := orchestrator.New(cfg, jobsRepo, logger)
	svc := server.NewJobsService(cfg, jobsRepo, orch, logger)

	// Sweep jobs a previous process left in PROCESSING.
	if n, err := svc.RecoverInterrupted(ctx); err != nil {
		logger.Warn("failed to recover interrupted jobs", "error", err)
	} else if n > 0 {
		logger.Info("recovered interrupted jobs", "count", n)
	}

	job, err := svc.StartJob(ctx, server.StartJobRequest{
		UserID:      *userStr,
		ArchivePath: *archive,
		Query:       *query,
		RepoName:    *repoName,
		Branch:      *branch,
		Commit:      *commit,
	})
	if err != nil {
		logger.Error("failed to start job", "error", err)
		os.Exit(1)
	}
	logger.Info("job started", "job_id", job.ID, "user_id", *userStr)

	select {
	case <-orch.Done(job.ID):
	case <-ctx.Done():
		logger.Info("interrupt received, cancelling job", "job_id", job.ID)
		cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := svc.DeleteJob(cancelCtx, job.ID.String()); err != nil {
			logger.Error("failed to cancel job", "job_id", job.ID, "error", err)
		}
		os.Exit(130)
	}

	details, err := svc.GetJob(context.Background(), job.ID.String())
	if err != nil {
		logger.Error("failed to fetch job result", "job_id", job.ID, "error", err)
		os.Exit(1)
	}
	final := details.Job

	logger.Info("job finished",
		"job_id", final.ID,
		"status", final.Status,
		"duration_s", derefInt(final.DurationSeconds),
		"cost", deref(final.Cost),
	)

	if final.Status == constants.JobStatusCompleted {
		fmt.Println("Reports:")
		for label, p := range map[string]*string{
			"data flow diagram": final.DataFlowPath,
			"threat model":      final.ThreatModelPath,
			"risk register":     final.RiskRegisterPath,
		} {
			if p != nil {
				fmt.Printf("  %-18s %s\n", label, *p)
			}
		}
	} else {
		printError("job %s: %s\n", final.Status, deref(final.ErrorMessage))
	}

	if *register != "" {
		exportService := export.NewService(jobsRepo, logger)
		xlsxBytes, err := exportService.ExportJobsXLSX(context.Background(), uuid.Nil, from, to)
		if err != nil {
			logger.Error("failed to export jobs register", "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*register, xlsxBytes, 0644); err != nil {
			logger.Error("failed to write register file", "path", *register, "error", err)
			os.Exit(1)
		}
		logger.Info("jobs register written", "path", *register)
	}

	if final.Status != constants.JobStatusCompleted {
		os.Exit(1)
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefInt(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
