// Package memory is the agent's durable note store: rows in sqlite for
// the notes themselves, a bleve index beside them for ranked recall.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Note is one saved memory.
type Note struct {
	ID      string
	Text    string
	Tags    []string
	Created time.Time
}

// SearchHit pairs a note with its relevance score.
type SearchHit struct {
	Note  Note
	Score float64
}

// Store persists notes in sqlite and keeps a bleve index for search.
type Store struct {
	db    *sql.DB
	index bleve.Index
}

// Open creates or opens the store under dir.
func Open(ctx context.Context, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	dsn := filepath.Join(dir, "memory.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping memory db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}

	index, err := openIndex(filepath.Join(dir, "memory.bleve"))
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, index: index}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS notes (
	note_id    TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	tags       TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at);
`

// openIndex opens the bleve index, creating it when missing and
// recreating it when it cannot be opened.
func openIndex(path string) (bleve.Index, error) {
	index, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create memory index: %w", err)
		}
		return index, nil
	}
	if err != nil {
		log.Printf("WARNING: memory index unreadable (%v), recreating", err)
		if index != nil {
			index.Close()
		}
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("remove broken memory index: %w", err)
		}
		index, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("recreate memory index: %w", err)
		}
	}
	return index, nil
}

func buildIndexMapping() mapping.IndexMapping {
	noteMapping := bleve.NewDocumentMapping()

	idField := bleve.NewTextFieldMapping()
	idField.Analyzer = keyword.Name
	idField.Store = true
	noteMapping.AddFieldMappingsAt("note_id", idField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	noteMapping.AddFieldMappingsAt("text", textField)

	tagsField := bleve.NewTextFieldMapping()
	tagsField.Analyzer = standard.Name
	tagsField.Store = false
	noteMapping.AddFieldMappingsAt("tags", tagsField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = noteMapping
	return indexMapping
}

// Save stores a note and indexes it.
func (s *Store) Save(ctx context.Context, text string, tags []string) (Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Note{}, fmt.Errorf("empty note")
	}

	note := Note{
		ID:      uuid.NewString(),
		Text:    text,
		Tags:    tags,
		Created: time.Now(),
	}
	tagsJSON, err := json.Marshal(note.Tags)
	if err != nil {
		return Note{}, fmt.Errorf("encode tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notes (note_id, text, tags, created_at) VALUES (?, ?, ?, ?)`,
		note.ID, note.Text, string(tagsJSON), note.Created.UnixNano())
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}

	doc := map[string]interface{}{
		"note_id": note.ID,
		"text":    note.Text,
		"tags":    strings.Join(note.Tags, " "),
	}
	if err := s.index.Index(note.ID, doc); err != nil {
		return Note{}, fmt.Errorf("index note: %w", err)
	}
	return note, nil
}

// Search returns the top k notes ranked by relevance to the query.
func (s *Store) Search(ctx context.Context, query string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 5
	}

	request := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	request.Size = k
	result, err := s.index.Search(request)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}

	hits := make([]SearchHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		note, err := s.get(ctx, hit.ID)
		if err == sql.ErrNoRows {
			// Indexed but no longer in the table; skip.
			continue
		}
		if err != nil {
			return nil, err
		}
		hits = append(hits, SearchHit{Note: note, Score: hit.Score})
	}
	return hits, nil
}

// List returns up to limit notes, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT note_id, text, tags, created_at FROM notes ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// Delete removes a note from the table and the index.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE note_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no note with id %s", id)
	}
	return s.index.Delete(id)
}

// Close closes the database and the index.
func (s *Store) Close() error {
	indexErr := s.index.Close()
	dbErr := s.db.Close()
	if indexErr != nil {
		return indexErr
	}
	return dbErr
}

func (s *Store) get(ctx context.Context, id string) (Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT note_id, text, tags, created_at FROM notes WHERE note_id = ?`, id)
	return scanNote(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (Note, error) {
	var note Note
	var tagsJSON string
	var createdNanos int64
	if err := row.Scan(&note.ID, &note.Text, &tagsJSON, &createdNanos); err != nil {
		return Note{}, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &note.Tags); err != nil {
		return Note{}, fmt.Errorf("decode tags: %w", err)
	}
	note.Created = time.Unix(0, createdNanos)
	return note, nil
}
