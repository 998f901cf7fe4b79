package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// FallbackRepoName is used when no candidate survives sanitization.
const FallbackRepoName = "repository"

// ErrHostSource means the prepared workspace looks like a copy of this
// service's own source tree. Refusing it keeps a stray (or hostile) upload
// from pointing the agent at the host application.
var ErrHostSource = errors.New("workspace contains the host application source")

// hostSourceIndicators are checked together under the copied repo root.
var hostSourceIndicators = []string{
	filepath.Join("cmd", "audit-run"),
	filepath.Join("internal", "orchestrator"),
}

var repoNameAllowed = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Workspace is the per-job directory tree holding the repository copy.
type Workspace struct {
	Root     string // <workBase>/<jobID>
	RepoDir  string // <workBase>/<jobID>/<RepoName>
	RepoName string
}

// Manager allocates and tears down per-job workspaces.
type Manager struct {
	workBase string
	logger   *slog.Logger
}

func NewManager(workBase string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{workBase: workBase, logger: logger}
}

// SanitizeRepoName collapses anything outside [A-Za-z0-9._-] and falls back
// to FallbackRepoName when nothing remains.
func SanitizeRepoName(name string) string {
	out := repoNameAllowed.ReplaceAllString(name, "_")
	out = strings.Trim(out, "_")
	if out == "" || strings.Trim(out, "._-") == "" {
		return FallbackRepoName
	}
	return out
}

// ResolveRepoName picks the canonical repository directory name. Priority:
// original archive filename (extension stripped), then an explicit manifest
// name, then a name from the repo's package manifest, then the extraction
// directory's own name, then the fixed fallback.
func ResolveRepoName(archiveFilename, manifestName, sourceRoot string) string {
	if archiveFilename != "" {
		base := strings.TrimSuffix(filepath.Base(archiveFilename), filepath.Ext(archiveFilename))
		if base != "" {
			return SanitizeRepoName(base)
		}
	}
	if manifestName != "" {
		return SanitizeRepoName(manifestName)
	}
	if name := packageManifestName(sourceRoot); name != "" {
		return SanitizeRepoName(name)
	}
	if sourceRoot != "" {
		if base := filepath.Base(filepath.Clean(sourceRoot)); base != "" && base != "." && base != string(os.PathSeparator) {
			return SanitizeRepoName(base)
		}
	}
	return FallbackRepoName
}

// packageManifestName reads the "name" field of a package.json at root.
func packageManifestName(root string) string {
	raw, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return ""
	}
	var m struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	return m.Name
}

// Prepare builds <workBase>/<jobID>/<repoName> fresh and copies sourceRoot
// into it. A stale directory left behind by a previous run with the same id
// is removed first.
func (m *Manager) Prepare(jobID, repoName, sourceRoot string) (*Workspace, error) {
	root := filepath.Join(m.workBase, jobID)
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("remove stale workspace: %w", err)
	}

	repoDir := filepath.Join(root, repoName)
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	if err := copyTree(sourceRoot, repoDir); err != nil {
		_ = os.RemoveAll(root)
		return nil, fmt.Errorf("copy repository into workspace: %w", err)
	}

	if looksLikeHostSource(repoDir) {
		_ = os.RemoveAll(root)
		m.logger.Error("rejected workspace resembling host source", "job_id", jobID, "source", sourceRoot)
		return nil, ErrHostSource
	}

	m.logger.Info("workspace prepared", "job_id", jobID, "repo_dir", repoDir)
	return &Workspace{Root: root, RepoDir: repoDir, RepoName: repoName}, nil
}

// Remove deletes the whole per-job tree. Best-effort; callers log, never
// escalate.
func (m *Manager) Remove(jobID string) error {
	return os.RemoveAll(filepath.Join(m.workBase, jobID))
}

func looksLikeHostSource(repoDir string) bool {
	for _, ind := range hostSourceIndicators {
		if _, err := os.Stat(filepath.Join(repoDir, ind)); err != nil {
			return false
		}
	}
	return true
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			// symlinks and special files are not carried into the workspace
			return nil
		}
		return copyFile(path, target)
	})
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
