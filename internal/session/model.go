// Package session persists conversations as JSON files under the data
// directory, scoped per repository by a short path hash, and labels
// them with model-generated titles and summaries.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/moabird/moa/internal/engine"
)

// Session is one saved conversation. History holds the engine's
// snapshot; Summary carries context worth injecting into a follow-up
// session.
type Session struct {
	ID        string           `json:"id"`
	RepoPath  string           `json:"repo_path"`
	RepoHash  string           `json:"repo_hash"`
	Title     string           `json:"title"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	History   []engine.Message `json:"history"`
	Summary   string           `json:"summary,omitempty"`
}

// Meta is the listing view of a session.
type Meta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Summary   string    `json:"summary,omitempty"`
}

// DefaultTitle marks a session whose title has not been generated yet.
const DefaultTitle = "Untitled session"

// New starts an empty session for the repository.
func New(repoPath string) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		RepoPath:  repoPath,
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch stamps the modification time ahead of a save.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now()
}
