// Package importer loads exam catalogs from JSON files. Each file is
// imported once; its SHA-256 is recorded so unchanged files are skipped on
// later runs.
package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/examgrade/internal/model"
)

// Status says what happened to one file.
type Status string

const (
	StatusImported  Status = "imported"
	StatusUnchanged Status = "unchanged"
	// StatusChanged means the file was imported before with different
	// content. It is skipped so recorded submissions keep their key.
	StatusChanged Status = "changed"
)

// ExamCreator creates exams with their questions. It stores all of them or
// none.
type ExamCreator interface {
	ImportExams(ctx context.Context, ins []model.ExamImport) ([]model.Exam, error)
}

// HashStore remembers which files were imported.
type HashStore interface {
	GetImportedFileHash(path string) (string, error)
	SetImportedFileHash(path, hash string) error
}

// Result describes the import of one file.
type Result struct {
	Path   string       `json:"path"`
	Status Status       `json:"status"`
	Exams  []model.Exam `json:"exams,omitempty"`
}

// Importer turns exam files into stored exams.
type Importer struct {
	exams  ExamCreator
	hashes HashStore
	logger *slog.Logger
}

// New creates an importer.
func New(exams ExamCreator, hashes HashStore, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{exams: exams, hashes: hashes, logger: logger.With("module", "importer")}
}

// Parse decodes an exam file. A file holds one exam object or an array of
// them.
func Parse(data []byte) ([]model.ExamImport, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var exams []model.ExamImport
		if err := json.Unmarshal(trimmed, &exams); err != nil {
			return nil, err
		}
		return exams, nil
	}
	var exam model.ExamImport
	if err := json.Unmarshal(trimmed, &exam); err != nil {
		return nil, err
	}
	return []model.ExamImport{exam}, nil
}

// ImportData imports the content of one file identified by name.
func (im *Importer) ImportData(ctx context.Context, name string, data []byte) (Result, error) {
	res := Result{Path: name}
	hash := sha256sum(data)
	storedHash, err := im.hashes.GetImportedFileHash(name)
	if err != nil {
		return res, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if storedHash == hash {
		im.logger.Info("exam file unchanged, skipping", "path", name)
		res.Status = StatusUnchanged
		return res, nil
	}
	if storedHash != "" {
		im.logger.Warn("exam file changed since last import, skipping to keep recorded submissions valid",
			"path", name)
		res.Status = StatusChanged
		return res, nil
	}

	imports, err := Parse(data)
	if err != nil {
		return res, fmt.Errorf("parse %s: %w", name, err)
	}
	exams, err := im.exams.ImportExams(ctx, imports)
	if err != nil {
		return res, fmt.Errorf("import %s: %w", name, err)
	}
	res.Exams = exams

	if err := im.hashes.SetImportedFileHash(name, hash); err != nil {
		return res, fmt.Errorf("record import for %s: %w", name, err)
	}
	res.Status = StatusImported
	im.logger.Info("imported exams", "path", name, "count", len(res.Exams))
	return res, nil
}

// ImportFiles reads all paths concurrently, then imports them in order.
func (im *Importer) ImportFiles(ctx context.Context, paths []string) ([]Result, error) {
	contents := make([][]byte, len(paths))
	g, _ := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			contents[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(paths))
	for i, path := range paths {
		res, err := im.ImportData(ctx, path, contents[i])
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
