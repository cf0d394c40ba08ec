package store

import (
	"slices"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/DeusData/errsel/internal/selector"
)

// Artifact is the stored state of one artifact file.
type Artifact struct {
	Project string
	RelPath string
	Path    string
	Hash    string
}

// ErrorRecord is one indexed error signature.
type ErrorRecord struct {
	Project   string
	RelPath   string
	Path      string
	Position  int
	Signature string
	Selector  selector.Selector
}

// GetArtifactHashes returns rel_path → content hash for a project.
func (s *Store) GetArtifactHashes(project string) (map[string]string, error) {
	rows, err := s.q.Query("SELECT rel_path, hash FROM artifacts WHERE project=?", project)
	if err != nil {
		return nil, errors.Errorf("get artifact hashes: %w", err)
	}
	defer rows.Close()
	result := make(map[string]string)
	for rows.Next() {
		var rel, hash string
		if err := rows.Scan(&rel, &hash); err != nil {
			return nil, errors.WithStack(err)
		}
		result[rel] = hash
	}
	return result, errors.WithStack(rows.Err())
}

// ReplaceArtifact stores a and replaces its error entries with entries, in
// the given order. The project must exist.
func (s *Store) ReplaceArtifact(a Artifact, entries []ErrorRecord) error {
	_, err := s.q.Exec(`
		INSERT INTO artifacts (project, rel_path, path, hash) VALUES (?, ?, ?, ?)
		ON CONFLICT(project, rel_path) DO UPDATE SET path=excluded.path, hash=excluded.hash`,
		a.Project, a.RelPath, a.Path, a.Hash)
	if err != nil {
		return errors.Errorf("upsert artifact %s: %w", a.RelPath, err)
	}
	if _, err := s.q.Exec("DELETE FROM errors WHERE project=? AND rel_path=?", a.Project, a.RelPath); err != nil {
		return errors.Errorf("clear errors %s: %w", a.RelPath, err)
	}
	for i, e := range entries {
		_, err := s.q.Exec(`
			INSERT INTO errors (project, rel_path, position, signature, selector) VALUES (?, ?, ?, ?, ?)`,
			a.Project, a.RelPath, i, e.Signature, e.Selector.String())
		if err != nil {
			return errors.Errorf("insert error %s %s: %w", a.RelPath, e.Signature, err)
		}
	}
	return nil
}

// DeleteArtifact removes an artifact and its errors.
func (s *Store) DeleteArtifact(project, relPath string) error {
	_, err := s.q.Exec("DELETE FROM artifacts WHERE project=? AND rel_path=?", project, relPath)
	return errors.WithStack(err)
}

// ArtifactErrors returns the stored errors of one artifact in extraction order.
func (s *Store) ArtifactErrors(project, relPath string) ([]ErrorRecord, error) {
	return s.queryErrors(`
		SELECT e.project, e.rel_path, a.path, e.position, e.signature, e.selector
		FROM errors e JOIN artifacts a ON a.project = e.project AND a.rel_path = e.rel_path
		WHERE e.project=? AND e.rel_path=?
		ORDER BY e.position`, project, relPath)
}

// ListErrors returns every stored error of a project, grouped by artifact.
// Artifacts come in directory walk order, which compares paths element by
// element, so "A.sol/A.json" sorts before "A.sol-x/A.json".
func (s *Store) ListErrors(project string) ([]ErrorRecord, error) {
	recs, err := s.queryErrors(`
		SELECT e.project, e.rel_path, a.path, e.position, e.signature, e.selector
		FROM errors e JOIN artifacts a ON a.project = e.project AND a.rel_path = e.rel_path
		WHERE e.project=?
		ORDER BY e.rel_path, e.position`, project)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(recs, func(a, b ErrorRecord) int {
		return comparePaths(a.RelPath, b.RelPath)
	})
	return recs, nil
}

// comparePaths orders slash-separated paths the way fs.WalkDir visits them.
func comparePaths(a, b string) int {
	return slices.Compare(strings.Split(a, "/"), strings.Split(b, "/"))
}

// LookupSelector returns every indexed error whose selector equals sel,
// across all projects.
func (s *Store) LookupSelector(sel selector.Selector) ([]ErrorRecord, error) {
	return s.queryErrors(`
		SELECT e.project, e.rel_path, a.path, e.position, e.signature, e.selector
		FROM errors e JOIN artifacts a ON a.project = e.project AND a.rel_path = e.rel_path
		WHERE e.selector=?
		ORDER BY e.project, e.rel_path, e.position`, sel.String())
}

// CountErrors returns the number of stored errors for a project.
func (s *Store) CountErrors(project string) (int, error) {
	var n int
	err := s.q.QueryRow("SELECT COUNT(*) FROM errors WHERE project=?", project).Scan(&n)
	return n, errors.WithStack(err)
}

func (s *Store) queryErrors(query string, args ...any) ([]ErrorRecord, error) {
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	var result []ErrorRecord
	for rows.Next() {
		var r ErrorRecord
		var sel string
		if err := rows.Scan(&r.Project, &r.RelPath, &r.Path, &r.Position, &r.Signature, &sel); err != nil {
			return nil, errors.WithStack(err)
		}
		if r.Selector, err = selector.Parse(sel); err != nil {
			return nil, errors.Errorf("stored selector for %s: %w", r.Signature, err)
		}
		result = append(result, r)
	}
	return result, errors.WithStack(rows.Err())
}
