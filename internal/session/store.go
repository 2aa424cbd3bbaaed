package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store reads and writes session files. Layout is
// <dataDir>/sessions/<repoHash>/<id>.json.
type Store struct {
	base string
}

// NewStore roots a store under the data directory.
func NewStore(dataDir string) *Store {
	return &Store{base: filepath.Join(dataDir, "sessions")}
}

// RepoHash derives the directory name scoping one repository's
// sessions. Twelve hex chars keeps unrelated checkouts apart without
// unwieldy paths.
func (s *Store) RepoHash(repoPath string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(repoPath)))
	return hex.EncodeToString(sum[:])[:12]
}

// Save writes the session to disk, creating the repo directory on
// first use. The write goes through a temp file and rename so an
// interrupted save never truncates an existing session.
func (s *Store) Save(sess *Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session has no id")
	}
	if sess.RepoHash == "" {
		sess.RepoHash = s.RepoHash(sess.RepoPath)
	}

	dir := filepath.Join(s.base, sess.RepoHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(dir, sess.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(sess.RepoHash, sess.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Load retrieves one session by id.
func (s *Store) Load(id, repoPath string) (*Session, error) {
	data, err := os.ReadFile(s.path(s.RepoHash(repoPath), id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &sess, nil
}

// List returns the metadata of every session saved for the repository,
// newest first. Unreadable or corrupt files are skipped rather than
// failing the whole listing.
func (s *Store) List(repoPath string) ([]Meta, error) {
	dir := filepath.Join(s.base, s.RepoHash(repoPath))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var metas []Meta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		metas = append(metas, Meta{
			ID:        sess.ID,
			Title:     sess.Title,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
			Summary:   sess.Summary,
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Delete removes one saved session.
func (s *Store) Delete(id, repoPath string) error {
	err := os.Remove(s.path(s.RepoHash(repoPath), id))
	if os.IsNotExist(err) {
		return fmt.Errorf("session %s not found", id)
	}
	return err
}

func (s *Store) path(repoHash, id string) string {
	return filepath.Join(s.base, repoHash, id+".json")
}
