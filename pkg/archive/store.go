// Package archive keeps evaluation reports in a content-addressed store
// with a SQLite index of runs.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zen-systems/visroute/pkg/eval"
)

// Ref points at an archived object.
type Ref struct {
	Kind   string `json:"kind"`
	SHA256 string `json:"sha256"`
}

// Store manages the content-addressed archive.
type Store struct {
	BasePath string
	index    *Index
}

// NewStore creates a new archive store under basePath (default ~/.visroute/archive).
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Join(home, ".visroute", "archive")
	}

	dirs := []string{
		filepath.Join(basePath, "objects"),
		filepath.Join(basePath, "indexes"),
	}

	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, err
		}
	}

	return &Store{BasePath: basePath}, nil
}

// StoreObject stores a JSON object by its SHA256 content hash in a sharded directory structure.
func (s *Store) StoreObject(obj any, kind string) (Ref, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return Ref{}, err
	}

	hashBytes := sha256.Sum256(data)
	hash := hex.EncodeToString(hashBytes[:])

	dir := filepath.Join(s.BasePath, "objects", hash[:2])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Ref{}, err
	}

	path := filepath.Join(dir, hash+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return Ref{}, err
	}

	return Ref{Kind: kind, SHA256: hash}, nil
}

// LoadObject decodes the object behind ref into v, checking its hash.
func (s *Store) LoadObject(ref Ref, v any) error {
	if len(ref.SHA256) < 2 {
		return fmt.Errorf("invalid ref %q", ref.SHA256)
	}
	data, err := os.ReadFile(filepath.Join(s.BasePath, "objects", ref.SHA256[:2], ref.SHA256+".json"))
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != ref.SHA256 {
		return fmt.Errorf("object %s is corrupt", ref.SHA256)
	}
	return json.Unmarshal(data, v)
}

// Index opens the run index lazily.
func (s *Store) Index(ctx context.Context) (*Index, error) {
	if s.index != nil {
		return s.index, nil
	}
	idx, err := OpenIndex(ctx, filepath.Join(s.BasePath, "indexes", "runs.db"))
	if err != nil {
		return nil, err
	}
	s.index = idx
	return idx, nil
}

// ArchiveReport stores the report and adds it to the run index.
func (s *Store) ArchiveReport(ctx context.Context, report *eval.Report, dataset string) (Ref, error) {
	ref, err := s.StoreObject(report, "eval_report")
	if err != nil {
		return Ref{}, fmt.Errorf("store report: %w", err)
	}
	idx, err := s.Index(ctx)
	if err != nil {
		return Ref{}, err
	}
	if err := idx.Record(ctx, RunFromReport(report, dataset, ref)); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// LoadReport reads an archived report.
func (s *Store) LoadReport(ref Ref) (*eval.Report, error) {
	var report eval.Report
	if err := s.LoadObject(ref, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Close releases the run index.
func (s *Store) Close() error {
	if s.index == nil {
		return nil
	}
	err := s.index.Close()
	s.index = nil
	return err
}
