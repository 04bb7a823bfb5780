package discovery

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/radialmonster/flickr-justified-block-sub001/internal/sqlite"
)

const registrySchema = `
CREATE TABLE IF NOT EXISTS known_resources (
	document_id TEXT NOT NULL,
	url         TEXT NOT NULL,
	position    INTEGER NOT NULL,
	PRIMARY KEY (document_id, url)
);
`

// Registry persists which documents reference which resource URLs.
type Registry struct {
	db *sql.DB
}

// NewRegistry returns a registry over db and creates its table.
func NewRegistry(ctx context.Context, db *sql.DB) (*Registry, error) {
	if _, err := db.ExecContext(ctx, registrySchema); err != nil {
		return nil, fmt.Errorf("create known_resources: %w", err)
	}
	return &Registry{db: db}, nil
}

func insertURLs(ctx context.Context, tx *sql.Tx, doc string, urls []string) error {
	seen := make(map[string]bool, len(urls))
	pos := 0
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO known_resources (document_id, url, position) VALUES (?, ?, ?)`,
			doc, u, pos); err != nil {
			return fmt.Errorf("insert %s for %s: %w", u, doc, err)
		}
		pos++
	}
	return nil
}

// ReplaceAll swaps the whole registry for docs.
func (r *Registry) ReplaceAll(ctx context.Context, docs map[string][]string) error {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return sqlite.RunTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM known_resources`); err != nil {
			return fmt.Errorf("clear registry: %w", err)
		}
		for _, id := range ids {
			if err := insertURLs(ctx, tx, id, docs[id]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Replace sets the URLs of one document. No URLs removes the document.
func (r *Registry) Replace(ctx context.Context, doc string, urls []string) error {
	return sqlite.RunTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM known_resources WHERE document_id = ?`, doc); err != nil {
			return fmt.Errorf("clear %s: %w", doc, err)
		}
		return insertURLs(ctx, tx, doc, urls)
	})
}

// All returns every document's URLs.
func (r *Registry) All(ctx context.Context) (map[string][]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT document_id, url FROM known_resources ORDER BY document_id, position`)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var doc, u string
		if err := rows.Scan(&doc, &u); err != nil {
			return nil, err
		}
		out[doc] = append(out[doc], u)
	}
	return out, rows.Err()
}

// URLs returns the union of all documents' URLs, deduplicated.
func (r *Registry) URLs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT url FROM known_resources
		GROUP BY url
		ORDER BY MIN(document_id), MIN(position)`)
	if err != nil {
		return nil, fmt.Errorf("list urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}
