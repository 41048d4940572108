package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AddMemory stores a memory, assigning an ID when none is set
func (s *SQLiteStore) AddMemory(ctx context.Context, memory *Memory) error {
	if strings.TrimSpace(memory.Content) == "" {
		return fmt.Errorf("failed to add memory: empty content")
	}
	if memory.ID == "" {
		memory.ID = uuid.NewString()
	}
	if memory.Type == "" {
		memory.Type = "note"
	}

	now := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO memories (id, type, content, tags, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, memory.ID, memory.Type, memory.Content, strings.Join(memory.Tags, " "),
		memory.TokenCount, now.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("failed to add memory %s: %w", memory.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to add memory: %w", err)
	}
	memory.CreatedAt = now
	return nil
}

// SearchMemories ranks memories by keyword relevance. An empty query lists
// the most recent memories.
func (s *SQLiteStore) SearchMemories(ctx context.Context, query string, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 10
	}

	var sqlQuery string
	var args []interface{}
	if match := buildMatchExpression(query); match != "" {
		sqlQuery = `
			SELECT m.id, m.type, m.content, m.tags, m.token_count, m.created_at, -bm25(memories_fts) AS score
			FROM memories_fts
			JOIN memories m ON m.seq = memories_fts.rowid
			WHERE memories_fts MATCH ?
			ORDER BY score DESC, m.created_at DESC
			LIMIT ?
		`
		args = []interface{}{match, limit}
	} else {
		sqlQuery = `
			SELECT id, type, content, tags, token_count, created_at, 0.0
			FROM memories
			ORDER BY created_at DESC
			LIMIT ?
		`
		args = []interface{}{limit}
	}

	rows, err := s.q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	memories := make([]*Memory, 0)
	for rows.Next() {
		var m Memory
		var tags string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.Type, &m.Content, &tags, &m.TokenCount, &createdAt, &m.Score); err != nil {
			return nil, err
		}
		m.Tags = strings.Fields(tags)
		m.CreatedAt = time.UnixMilli(createdAt)
		memories = append(memories, &m)
	}
	return memories, rows.Err()
}

func (s *SQLiteStore) DeleteMemory(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddPattern stores a pattern, assigning an ID when none is set
func (s *SQLiteStore) AddPattern(ctx context.Context, pattern *Pattern) error {
	if pattern.Name == "" {
		return fmt.Errorf("failed to add pattern: empty name")
	}
	if pattern.ID == "" {
		pattern.ID = uuid.NewString()
	}

	now := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO patterns (id, name, description, example, language, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, pattern.ID, pattern.Name, pattern.Description, pattern.Example, pattern.Language, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to add pattern: %w", err)
	}
	pattern.CreatedAt = now
	return nil
}

func (s *SQLiteStore) ListPatterns(ctx context.Context, limit int) ([]*Pattern, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, description, example, language, created_at
		FROM patterns
		ORDER BY name, created_at
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	patterns := make([]*Pattern, 0)
	for rows.Next() {
		var p Pattern
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Example, &p.Language, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = time.UnixMilli(createdAt)
		patterns = append(patterns, &p)
	}
	return patterns, rows.Err()
}
