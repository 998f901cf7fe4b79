package repometa

import (
	"log/slog"

	"github.com/go-git/go-git/v5"
)

// Metadata is what can be recovered from a checked-out repository copy.
// Uploads that are plain source trees (no .git) produce an empty value.
type Metadata struct {
	Branch string
	Commit string
}

// Detect reads branch and commit from the repository at dir. Detection is
// best-effort: any failure, including the directory simply not being a git
// repository, returns an empty Metadata and no error.
func Detect(dir string, logger *slog.Logger) Metadata {
	if logger == nil {
		logger = slog.Default()
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		logger.Debug("no git metadata in upload", "dir", dir, "error", err)
		return Metadata{}
	}

	head, err := repo.Head()
	if err != nil {
		logger.Debug("git HEAD unreadable", "dir", dir, "error", err)
		return Metadata{}
	}

	md := Metadata{Commit: head.Hash().String()}
	if name := head.Name(); name.IsBranch() {
		md.Branch = name.Short()
	}
	return md
}
