package reports

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/repo-auditor/constants"
)

// ErrNoReports means the agent finished without leaving a single file that
// classifies into any report family.
var ErrNoReports = errors.New("no reports generated")

// Harvest is the outcome of one collection pass.
type Harvest struct {
	// Copied lists every durable report path written, in scan order.
	Copied []string
	// ByCategory maps each matched family to its chosen durable path.
	// First match wins; later duplicates are logged and skipped.
	ByCategory map[constants.ReportCategory]string
}

// Harvester copies agent output files into the durable per-job report
// directory.
type Harvester struct {
	reportsBase string
	logger      *slog.Logger
}

func NewHarvester(reportsBase string, logger *slog.Logger) *Harvester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Harvester{reportsBase: reportsBase, logger: logger}
}

// CandidateDirs builds the ordered search list: the workspace root, the
// repository directory, then hidden subdirectories found directly under
// either. The agent's output location is not perfectly predictable, so the
// search is deliberately wider than the contract asks of the agent.
func CandidateDirs(workspaceRoot, repoDir string) []string {
	dirs := []string{workspaceRoot, repoDir}
	for _, base := range []string{workspaceRoot, repoDir} {
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), ".") {
				dirs = append(dirs, filepath.Join(base, e.Name()))
			}
		}
	}
	return dirs
}

// Collect scans searchDirs in order, classifies every regular file directly
// inside each one, and copies matches into <reportsBase>/<jobID>/ keeping
// original filenames. Unmatched files are ignored. Zero matches returns
// ErrNoReports.
func (h *Harvester) Collect(jobID string, searchDirs []string) (*Harvest, error) {
	destDir := filepath.Join(h.reportsBase, jobID)

	out := &Harvest{ByCategory: make(map[constants.ReportCategory]string)}
	for _, dir := range searchDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			// a candidate dir the agent never created is normal
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			cat, ok := constants.ClassifyReportFilename(e.Name())
			if !ok {
				continue
			}
			if prev, dup := out.ByCategory[cat]; dup {
				h.logger.Warn("duplicate report candidate ignored",
					"job_id", jobID, "category", cat, "kept", prev, "ignored", filepath.Join(dir, e.Name()))
				continue
			}

			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return nil, fmt.Errorf("create report dir: %w", err)
			}
			dest := filepath.Join(destDir, e.Name())
			if err := copyFile(filepath.Join(dir, e.Name()), dest); err != nil {
				return nil, fmt.Errorf("copy report %q: %w", e.Name(), err)
			}
			out.Copied = append(out.Copied, dest)
			out.ByCategory[cat] = dest
			h.logger.Info("report harvested", "job_id", jobID, "category", cat, "path", dest)
		}
	}

	if len(out.Copied) == 0 {
		return nil, ErrNoReports
	}
	return out, nil
}

// RemoveJobDir deletes the durable report directory for a job.
func (h *Harvester) RemoveJobDir(jobID string) error {
	return os.RemoveAll(filepath.Join(h.reportsBase, jobID))
}

// JobDir returns the durable report directory for a job.
func (h *Harvester) JobDir(jobID string) string {
	return filepath.Join(h.reportsBase, jobID)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
