// Package artifact archives files produced by stages into a run-scoped area
// laid out as <root>/<runID>/artifacts/<stage>/<relative path>.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loykin/piperun/internal/common"
	"github.com/loykin/piperun/pkg/stage"
)

// Ref records the outcome of archiving one file, or of a pattern that
// matched nothing (Path empty, Archived false).
type Ref struct {
	Stage    string `json:"stage"`
	Pattern  string `json:"pattern"`
	Path     string `json:"path,omitempty"`     // relative to the stage working directory
	Location string `json:"location,omitempty"` // relative to the run directory, slash separated
	Archived bool   `json:"archived"`
	SHA256   string `json:"sha256,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CollectionError describes a declared artifact that could not be archived.
// It is never fatal to a run.
type CollectionError struct {
	Stage   string
	Pattern string
	Path    string
	Err     error
}

func (e *CollectionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("artifact %s/%s: %v", e.Stage, e.Path, e.Err)
	}
	return fmt.Sprintf("artifact %s (%s): %v", e.Stage, e.Pattern, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// ErrNoMatch marks a pattern that matched no files.
var ErrNoMatch = errors.New("pattern matched no files")

// Collector copies declared artifacts into Root.
type Collector struct {
	Root   string
	logger *common.Logger
}

// NewCollector returns a Collector writing under root.
func NewCollector(root string) *Collector {
	return &Collector{Root: root, logger: common.GetLogger().WithComponent("artifact")}
}

// RunDir returns the directory holding everything archived for runID.
func (c *Collector) RunDir(runID string) string {
	return filepath.Join(c.Root, runID)
}

// ArchiveDir is the run subdirectory holding stage archives. Keeping it apart
// from the summary files and the log directory means no stage name can
// shadow them.
const ArchiveDir = "artifacts"

// StageDir returns the archive directory of one stage.
func (c *Collector) StageDir(runID, stageName string) string {
	return filepath.Join(c.RunDir(runID), ArchiveDir, DirName(stageName))
}

// DirName maps a stage name onto a single safe path element. Bytes outside
// [A-Za-z0-9._-] are percent-encoded, '%' included, so distinct names never
// share a directory.
func DirName(stageName string) string {
	var b strings.Builder
	for i := 0; i < len(stageName); i++ {
		ch := stageName[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9',
			ch == '-', ch == '_', ch == '.':
			b.WriteByte(ch)
		default:
			fmt.Fprintf(&b, "%%%02X", ch)
		}
	}
	n := b.String()
	switch n {
	case "":
		return "%"
	case ".", "..":
		return strings.ReplaceAll(n, ".", "%2E")
	}
	return n
}

// Collect matches st's artifact patterns inside workDir and copies every hit
// into the stage's archive directory. Each file is written to a temporary
// file and renamed into place, so collecting again overwrites the previous
// copy. The returned refs follow pattern order, files sorted within a
// pattern. The error, when non-nil, joins *CollectionError values; refs are
// complete either way.
func (c *Collector) Collect(ctx context.Context, runID string, st stage.Stage, workDir string) ([]Ref, error) {
	logger := c.logger.WithRun(runID).WithStage(st.Name)
	var (
		refs []Ref
		errs []error
		seen = map[string]bool{}
	)
	for _, pattern := range st.Artifacts {
		files, err := expand(workDir, pattern)
		if err != nil {
			errs = append(errs, &CollectionError{Stage: st.Name, Pattern: pattern, Err: err})
			refs = append(refs, Ref{Stage: st.Name, Pattern: pattern, Error: err.Error()})
			continue
		}
		if len(files) == 0 {
			logger.Info("artifact pattern matched nothing", "pattern", pattern)
			refs = append(refs, Ref{Stage: st.Name, Pattern: pattern, Error: ErrNoMatch.Error()})
			continue
		}
		for _, rel := range files {
			if seen[rel] {
				continue
			}
			seen[rel] = true
			ref := Ref{Stage: st.Name, Pattern: pattern, Path: filepath.ToSlash(rel)}
			if err := ctx.Err(); err != nil {
				ref.Error = err.Error()
				errs = append(errs, &CollectionError{Stage: st.Name, Pattern: pattern, Path: rel, Err: err})
				refs = append(refs, ref)
				continue
			}
			dst := filepath.Join(c.StageDir(runID, st.Name), rel)
			sum, size, err := copyFile(filepath.Join(workDir, rel), dst)
			if err != nil {
				ref.Error = err.Error()
				errs = append(errs, &CollectionError{Stage: st.Name, Pattern: pattern, Path: rel, Err: err})
				logger.Warn("artifact not archived", "path", rel, "error", err)
			} else {
				ref.Archived = true
				ref.SHA256 = sum
				ref.Size = size
				ref.Location = ArchiveDir + "/" + DirName(st.Name) + "/" + filepath.ToSlash(rel)
				logger.Debug("artifact archived", "path", rel, "size", size)
			}
			refs = append(refs, ref)
		}
	}
	return refs, errors.Join(errs...)
}

// expand resolves pattern relative to workDir into sorted, de-duplicated file
// paths relative to workDir. Matched directories contribute all files below them.
func expand(workDir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(workDir, pattern))
	if err != nil {
		return nil, err
	}
	var files []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, m)
			continue
		}
		err = filepath.WalkDir(m, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	rels := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(workDir, f)
		if err != nil {
			return nil, err
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	return dedupeSorted(rels), nil
}

func dedupeSorted(sorted []string) []string {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, s := range sorted[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// copyFile copies src to dst atomically and returns the sha256 of the content.
func copyFile(src, dst string) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = in.Close() }()
	info, err := in.Stat()
	if err != nil {
		return "", 0, err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".artifact-*")
	if err != nil {
		return "", 0, err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), in)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmpName, info.Mode().Perm())
	}
	if err == nil {
		err = os.Rename(tmpName, dst)
	}
	if err != nil {
		cleanup()
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashFile returns the hex sha256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
