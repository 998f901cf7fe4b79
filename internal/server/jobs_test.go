package server

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/repo-auditor/constants"
	"github.com/joseph-ayodele/repo-auditor/internal/common"
	"github.com/joseph-ayodele/repo-auditor/internal/entity"
	"github.com/joseph-ayodele/repo-auditor/internal/orchestrator"
	"github.com/joseph-ayodele/repo-auditor/internal/repository"
)

type memJobs struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*entity.Job
}

func newMemJobs() *memJobs {
	return &memJobs{rows: make(map[uuid.UUID]*entity.Job)}
}

func (m *memJobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memJobs) Create(ctx context.Context, userID uuid.UUID, repoPath string, query *string) (*entity.Job, error) {
	j := &entity.Job{
		ID:        uuid.New(),
		UserID:    userID,
		RepoPath:  repoPath,
		Query:     query,
		Status:    constants.JobStatusPending,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[j.ID] = j
	return j, nil
}

func (m *memJobs) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) List(ctx context.Context) ([]*entity.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entity.Job, 0, len(m.rows))
	for _, j := range m.rows {
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memJobs) ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.Job, error) {
	all, _ := m.List(ctx)
	var out []*entity.Job
	for _, j := range all {
		if j.UserID == userID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memJobs) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.JobStatus, upd repository.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	j.Status = status
	if upd.ReportPath != nil {
		j.ReportPath = upd.ReportPath
	}
	if upd.DataFlowPath != nil {
		j.DataFlowPath = upd.DataFlowPath
	}
	if upd.ThreatModelPath != nil {
		j.ThreatModelPath = upd.ThreatModelPath
	}
	if upd.RiskRegisterPath != nil {
		j.RiskRegisterPath = upd.RiskRegisterPath
	}
	if upd.ErrorMessage != nil {
		j.ErrorMessage = upd.ErrorMessage
	}
	if status.Terminal() {
		now := time.Now()
		j.CompletedAt = &now
	}
	return nil
}

func (m *memJobs) UpdateMetadata(ctx context.Context, id uuid.UUID, repoName, branch, commit, defaultQuery *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	if repoName != nil {
		j.RepoName = repoName
	}
	if branch != nil {
		j.Branch = branch
	}
	if commit != nil {
		j.Commit = commit
	}
	if defaultQuery != nil && j.Query == nil {
		j.Query = defaultQuery
	}
	return nil
}

func (m *memJobs) UpdateExecutionMetrics(ctx context.Context, id uuid.UUID, durationSeconds int64, cost *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	j.DurationSeconds = &durationSeconds
	j.Cost = cost
	return nil
}

func (m *memJobs) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return common.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memJobs) FailInterrupted(ctx context.Context, message string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.rows {
		if j.Status == constants.JobStatusProcessing {
			j.Status = constants.JobStatusFailed
			msg := message
			j.ErrorMessage = &msg
			now := time.Now()
			j.CompletedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memJobs) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rows)), nil
}

func buildZip(t *testing.T, name string, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for n, body := range entries {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func newService(t *testing.T, agentScript string) (*JobsService, *memJobs, *orchestrator.Orchestrator) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub agent scripts require a unix shell")
	}

	base := t.TempDir()
	bin := filepath.Join(base, "stub-agent")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+agentScript+"\n"), 0o755))

	cfg := &common.Config{
		Agent: common.AgentConfig{
			Binary:          bin,
			Role:            "security-auditor",
			APIKey:          "test-key",
			KillGracePeriod: 500 * time.Millisecond,
		},
		Storage: common.StorageConfig{
			WorkDir:    filepath.Join(base, "work"),
			ReportsDir: filepath.Join(base, "reports"),
			UploadDir:  filepath.Join(base, "uploads"),
		},
	}

	jobs := newMemJobs()
	orch := orchestrator.New(cfg, jobs, nil)
	return NewJobsService(cfg, jobs, orch, nil), jobs, orch
}

func TestStartJobValidation(t *testing.T) {
	t.Parallel()

	svc, jobs, _ := newService(t, `exit 0`)
	archivePath := buildZip(t, "repo.zip", map[string]string{"main.go": "package main\n"})

	t.Run("bad user id", func(t *testing.T) {
		_, err := svc.StartJob(context.Background(), StartJobRequest{
			UserID: "not-a-uuid", ArchivePath: archivePath,
		})
		require.Error(t, err)
	})

	t.Run("missing archive path", func(t *testing.T) {
		_, err := svc.StartJob(context.Background(), StartJobRequest{
			UserID: uuid.New().String(),
		})
		require.Error(t, err)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := svc.StartJob(context.Background(), StartJobRequest{
			UserID: uuid.New().String(), ArchivePath: "/tmp/code.tar.gz",
		})
		require.Error(t, err)
	})

	require.Equal(t, 0, jobs.count(), "validation failures must not create records")
}

func TestStartJobCorruptArchiveCreatesNoRecord(t *testing.T) {
	t.Parallel()

	svc, jobs, _ := newService(t, `exit 0`)
	bad := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(bad, []byte("this is not a zip"), 0o644))

	_, err := svc.StartJob(context.Background(), StartJobRequest{
		UserID: uuid.New().String(), ArchivePath: bad,
	})
	require.Error(t, err)
	require.Equal(t, 0, jobs.count())
}

func TestStartJobRunsToCompletion(t *testing.T) {
	t.Parallel()

	svc, _, orch := newService(t, `
printf '# threats\n' > threat_model.md
printf 'id,risk\n' > risk_register.csv
exit 0`)

	archivePath := buildZip(t, "payments.zip", map[string]string{
		"payments/main.go": "package main\n",
	})
	userID := uuid.New().String()

	job, err := svc.StartJob(context.Background(), StartJobRequest{
		UserID:      userID,
		ArchivePath: archivePath,
		Query:       "focus on authentication",
	})
	require.NoError(t, err)
	require.Equal(t, constants.JobStatusPending, job.Status)

	select {
	case <-orch.Done(job.ID):
	case <-time.After(15 * time.Second):
		t.Fatal("job did not finish")
	}

	details, err := svc.GetJob(context.Background(), job.ID.String())
	require.NoError(t, err)
	require.Equal(t, constants.JobStatusCompleted, details.Job.Status)
	require.Equal(t, "# threats\n", details.Reports[constants.ReportThreatModel])
	require.Equal(t, "id,risk\n", details.Reports[constants.ReportRiskRegister])
	require.NotNil(t, details.Job.RepoName)
	require.Equal(t, "payments", *details.Job.RepoName)

	// the caller's archive is untouched; only the staged copy is consumed
	_, err = os.Stat(archivePath)
	require.NoError(t, err)

	listed, err := svc.ListJobs(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestStartJobMetadataOverrides(t *testing.T) {
	t.Parallel()

	svc, _, orch := newService(t, `printf x > data_flow.md; exit 0`)
	archivePath := buildZip(t, "svc.zip", map[string]string{"a.txt": "x"})

	job, err := svc.StartJob(context.Background(), StartJobRequest{
		UserID:      uuid.New().String(),
		ArchivePath: archivePath,
		Branch:      "release/2.3",
		Commit:      "deadbeef",
	})
	require.NoError(t, err)
	<-orch.Done(job.ID)

	details, err := svc.GetJob(context.Background(), job.ID.String())
	require.NoError(t, err)
	require.NotNil(t, details.Job.Branch)
	require.Equal(t, "release/2.3", *details.Job.Branch)
	require.NotNil(t, details.Job.Commit)
	require.Equal(t, "deadbeef", *details.Job.Commit)
}

func TestGetJobUnknown(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t, `exit 0`)

	_, err := svc.GetJob(context.Background(), "garbage")
	require.Error(t, err)

	_, err = svc.GetJob(context.Background(), uuid.New().String())
	require.Error(t, err)
}

func TestDeleteJobCancelsRunning(t *testing.T) {
	t.Parallel()

	svc, jobs, orch := newService(t, `sleep 30`)
	archivePath := buildZip(t, "slow.zip", map[string]string{"a.txt": "x"})

	job, err := svc.StartJob(context.Background(), StartJobRequest{
		UserID: uuid.New().String(), ArchivePath: archivePath,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := jobs.GetByID(context.Background(), job.ID)
		return err == nil && j.Status == constants.JobStatusProcessing
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, svc.DeleteJob(ctx, job.ID.String()))

	require.False(t, orch.Running(job.ID))
	require.Equal(t, 0, jobs.count())
}

func TestDeleteJobUnknownIsNotFound(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t, `exit 0`)
	err := svc.DeleteJob(context.Background(), uuid.New().String())
	require.Error(t, err)
}

func TestRecoverInterrupted(t *testing.T) {
	t.Parallel()

	svc, jobs, _ := newService(t, `exit 0`)
	j, err := jobs.Create(context.Background(), uuid.New(), "stale.zip", nil)
	require.NoError(t, err)
	require.NoError(t, jobs.UpdateStatus(context.Background(), j.ID, constants.JobStatusProcessing, repository.StatusUpdate{}))

	n, err := svc.RecoverInterrupted(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := jobs.GetByID(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, constants.JobStatusFailed, got.Status)
	require.NotNil(t, got.CompletedAt)
}
