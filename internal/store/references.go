// References, named events, quotes, and bylines: extraction facts
// stored alongside an article's primary entities, companies, and CVEs.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
)

// LinkExternalReference records an outbound link an article cites.
func LinkExternalReference(ctx context.Context, ex QueryExecer, ref model.ExternalReference) error {
	_, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO article_external_references
			(article_id, original_url, normalized_url, domain, reference_type)
		VALUES (?, ?, ?, ?, ?)`,
		ref.ArticleID, ref.OriginalURL, ref.NormalizedURL, ref.Domain, ref.ReferenceType)
	if err != nil {
		return fmt.Errorf("linking external reference for article %d: %w", ref.ArticleID, err)
	}
	return nil
}

// UpsertNamedEvent inserts or touches a named event, returning its id.
func UpsertNamedEvent(ctx context.Context, ex QueryExecer, eventName string) (int64, error) {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO named_events (event_name, last_seen_date)
		VALUES (?, CURRENT_TIMESTAMP)
		ON CONFLICT(event_name) DO UPDATE SET last_seen_date = CURRENT_TIMESTAMP`, eventName)
	if err != nil {
		return 0, fmt.Errorf("upserting named event %q: %w", eventName, err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	var id int64
	err = ex.QueryRowContext(ctx, `SELECT event_id FROM named_events WHERE event_name = ?`, eventName).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("looking up named event %q: %w", eventName, err)
	}
	return id, nil
}

// LinkArticleToEvent associates an article with a named event.
func LinkArticleToEvent(ctx context.Context, ex QueryExecer, articleID, eventID int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO article_events (article_id, event_id) VALUES (?, ?)`, articleID, eventID)
	if err != nil {
		return fmt.Errorf("linking article %d to event %d: %w", articleID, eventID, err)
	}
	return nil
}

// UpsertQuote inserts a quote keyed by its dedup hash, returning its
// id whether newly inserted or already present.
func UpsertQuote(ctx context.Context, ex QueryExecer, text, hash, speaker string) (int64, error) {
	res, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO quotes (quote_text, quote_hash, speaker) VALUES (?, ?, ?)`,
		text, hash, speaker)
	if err != nil {
		return 0, fmt.Errorf("inserting quote: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	var id int64
	err = ex.QueryRowContext(ctx, `SELECT quote_id FROM quotes WHERE quote_hash = ?`, hash).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("looking up quote by hash: %w", err)
	}
	return id, nil
}

// LinkArticleToQuote associates an article with a quote it contains.
func LinkArticleToQuote(ctx context.Context, ex QueryExecer, articleID, quoteID int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO article_quotes (article_id, quote_id) VALUES (?, ?)`, articleID, quoteID)
	if err != nil {
		return fmt.Errorf("linking article %d to quote %d: %w", articleID, quoteID, err)
	}
	return nil
}

// LinkAuthor records a byline on an article.
func LinkAuthor(ctx context.Context, ex QueryExecer, articleID int64, author string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO article_authors (article_id, author_name) VALUES (?, ?)`, articleID, author)
	if err != nil {
		return fmt.Errorf("linking author %q to article %d: %w", author, articleID, err)
	}
	return nil
}

// ArticleExternalReferences returns every outbound link an article cites.
func ArticleExternalReferences(ctx context.Context, q Queryer, articleID int64) ([]model.ExternalReference, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT article_id, original_url, normalized_url, domain, reference_type
		FROM article_external_references WHERE article_id = ?`, articleID)
	if err != nil {
		return nil, fmt.Errorf("querying references for article %d: %w", articleID, err)
	}
	defer rows.Close()

	var out []model.ExternalReference
	for rows.Next() {
		var r model.ExternalReference
		if err := rows.Scan(&r.ArticleID, &r.OriginalURL, &r.NormalizedURL, &r.Domain, &r.ReferenceType); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ArticleNamedEvents returns the names of every named event an article
// is linked to.
func ArticleNamedEvents(ctx context.Context, q Queryer, articleID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT e.event_name FROM article_events ae
		JOIN named_events e ON e.event_id = ae.event_id
		WHERE ae.article_id = ?`, articleID)
	if err != nil {
		return nil, fmt.Errorf("querying named events for article %d: %w", articleID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ArticleQuotes returns every quote an article is linked to.
func ArticleQuotes(ctx context.Context, q Queryer, articleID int64) ([]model.Quote, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT quo.quote_text, quo.speaker FROM article_quotes aq
		JOIN quotes quo ON quo.quote_id = aq.quote_id
		WHERE aq.article_id = ?`, articleID)
	if err != nil {
		return nil, fmt.Errorf("querying quotes for article %d: %w", articleID, err)
	}
	defer rows.Close()

	var out []model.Quote
	for rows.Next() {
		q := model.Quote{ArticleID: articleID}
		if err := rows.Scan(&q.Text, &q.Speaker); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ArticleAuthor returns the first recorded byline for an article, or
// "" if none was extracted.
func ArticleAuthor(ctx context.Context, q Queryer, articleID int64) (string, error) {
	var author string
	err := q.QueryRowContext(ctx, `
		SELECT author_name FROM article_authors WHERE article_id = ? LIMIT 1`, articleID).Scan(&author)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying author for article %d: %w", articleID, err)
	}
	return author, nil
}
