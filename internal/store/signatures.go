// article_signatures is the quick-match index: a precomputed hash of
// an article's core-entity set, used by the Grouping Coordinator to
// narrow full similarity scoring when two articles obviously share the
// same entity fingerprint.
package store

import (
	"context"
	"fmt"
)

// SetArticleSignatureHash stores the quick-match hash for an article,
// overwriting any prior value (the hash is recomputed whenever
// entities are re-extracted).
func SetArticleSignatureHash(ctx context.Context, ex QueryExecer, articleID int64, hash string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT OR REPLACE INTO article_signatures (article_id, entity_hash) VALUES (?, ?)`,
		articleID, hash)
	if err != nil {
		return fmt.Errorf("storing signature hash for article %d: %w", articleID, err)
	}
	return nil
}

// ArticlesWithHash returns every article id sharing the given
// quick-match hash, excluding the article itself.
func ArticlesWithHash(ctx context.Context, q Queryer, hash string, excludeArticleID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT article_id FROM article_signatures WHERE entity_hash = ? AND article_id != ?`,
		hash, excludeArticleID)
	if err != nil {
		return nil, fmt.Errorf("querying articles by signature hash: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GroupIDsForArticles returns the distinct group ids the given
// article ids currently belong to, used to turn a quick-match hit
// into a candidate group shortlist before full similarity scoring.
func GroupIDsForArticles(ctx context.Context, q Queryer, articleIDs []int64) ([]int64, error) {
	if len(articleIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(articleIDs)*2)
	args := make([]any, 0, len(articleIDs))
	for i, id := range articleIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	query := fmt.Sprintf(`
		SELECT DISTINCT group_id FROM two_phase_article_group_memberships
		WHERE article_id IN (%s)`, string(placeholders))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying groups for candidate articles: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
