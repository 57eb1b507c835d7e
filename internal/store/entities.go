package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
)

// UpsertEntity inserts a new entity or, if (name, type) already
// exists, bumps its mention_count and last_seen. Returns the
// entity_id either way.
func UpsertEntity(ctx context.Context, ex QueryExecer, name string, entityType model.EntityType, description string) (int64, error) {
	var entityID int64
	row := ex.QueryRowContext(ctx,
		`SELECT entity_id FROM entity_profiles WHERE entity_name = ? AND entity_type = ?`,
		name, string(entityType))
	scanErr := row.Scan(&entityID)
	now := model.FormatTime(time.Now().UTC())

	switch scanErr {
	case nil:
		_, err := ex.ExecContext(ctx, `
			UPDATE entity_profiles
			SET mention_count = mention_count + 1,
			    last_seen = ?,
			    updated_at = ?,
			    description = COALESCE(NULLIF(?, ''), description)
			WHERE entity_id = ?`, now, now, description, entityID)
		if err != nil {
			return 0, fmt.Errorf("updating entity %s: %w", name, err)
		}
		return entityID, nil
	case sql.ErrNoRows:
		res, err := ex.ExecContext(ctx, `
			INSERT INTO entity_profiles (entity_name, entity_type, description, first_seen, last_seen, mention_count)
			VALUES (?, ?, ?, ?, ?, 1)`, name, string(entityType), description, now, now)
		if err != nil {
			return 0, fmt.Errorf("inserting entity %s: %w", name, err)
		}
		return res.LastInsertId()
	default:
		return 0, fmt.Errorf("looking up entity %s: %w", name, scanErr)
	}
}

// LinkEntityToArticle records an article's mention of an entity,
// following the INSERT OR REPLACE idiom for upsertable association
// rows.
func LinkEntityToArticle(ctx context.Context, ex QueryExecer, articleID, entityID int64, relevance float64, context_ string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT OR REPLACE INTO article_entities (article_id, entity_id, relevance_score, context_snippet)
		VALUES (?, ?, ?, ?)`, articleID, entityID, relevance, context_)
	if err != nil {
		return fmt.Errorf("linking entity %d to article %d: %w", entityID, articleID, err)
	}
	return nil
}

// LinkEntityToGroup records a group-level entity aggregate (used by
// the Grouping Coordinator when a group gains an article's entities).
func LinkEntityToGroup(ctx context.Context, ex QueryExecer, groupID, entityID int64, relevance float64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT OR REPLACE INTO group_entities (group_id, entity_id, relevance_score)
		VALUES (?, ?, ?)`, groupID, entityID, relevance)
	if err != nil {
		return fmt.Errorf("linking entity %d to group %d: %w", entityID, groupID, err)
	}
	return nil
}

// LinkEntityToTrend records a trend's core entity (used by the Trend
// Synthesizer).
func LinkEntityToTrend(ctx context.Context, ex QueryExecer, trendID, entityID int64, relevance float64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT OR REPLACE INTO trend_entities (trend_id, entity_id, relevance_score)
		VALUES (?, ?, ?)`, trendID, entityID, relevance)
	if err != nil {
		return fmt.Errorf("linking entity %d to trend %d: %w", entityID, trendID, err)
	}
	return nil
}

// ArticleEntities returns every entity mentioned in an article, used
// by signature building and similarity scoring.
func ArticleEntities(ctx context.Context, q Queryer, articleID int64) ([]model.EntityRef, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT ae.entity_id, e.entity_name, e.entity_type, ae.relevance_score, ae.context_snippet
		FROM article_entities ae
		JOIN entity_profiles e ON e.entity_id = ae.entity_id
		WHERE ae.article_id = ?`, articleID)
	if err != nil {
		return nil, fmt.Errorf("querying article entities for %d: %w", articleID, err)
	}
	defer rows.Close()

	var out []model.EntityRef
	for rows.Next() {
		var er model.EntityRef
		var typ string
		if err := rows.Scan(&er.EntityID, &er.Name, &typ, &er.Relevance, &er.Context); err != nil {
			return nil, fmt.Errorf("scanning article entity: %w", err)
		}
		er.Type = model.NormalizeEntityType(typ)
		out = append(out, er)
	}
	return out, rows.Err()
}

// GroupEntities returns a group's aggregated entity set, used by
// similarity scoring against ungrouped articles and merge comparisons.
func GroupEntities(ctx context.Context, q Queryer, groupID int64) ([]model.EntityRef, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT ge.entity_id, e.entity_name, e.entity_type, ge.relevance_score
		FROM group_entities ge
		JOIN entity_profiles e ON e.entity_id = ge.entity_id
		WHERE ge.group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying group entities for %d: %w", groupID, err)
	}
	defer rows.Close()

	var out []model.EntityRef
	for rows.Next() {
		var er model.EntityRef
		var typ string
		if err := rows.Scan(&er.EntityID, &er.Name, &typ, &er.Relevance); err != nil {
			return nil, fmt.Errorf("scanning group entity: %w", err)
		}
		er.Type = model.NormalizeEntityType(typ)
		out = append(out, er)
	}
	return out, rows.Err()
}

// CategoryEntityCounts returns the most-mentioned entities across a
// category's articles, capped at limit, backing
// /api/category_entities?category=X&limit=N.
func CategoryEntityCounts(ctx context.Context, q Queryer, category string, limit int) ([]model.EntityCount, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT e.entity_name, e.entity_type, COUNT(*) AS cnt
		FROM article_entities ae
		JOIN entity_profiles e ON e.entity_id = ae.entity_id
		JOIN articles a ON a.id = ae.article_id
		JOIN two_phase_article_group_memberships m ON m.article_id = a.id
		JOIN two_phase_article_groups g ON g.group_id = m.group_id
		WHERE g.main_topic = ?
		GROUP BY e.entity_name, e.entity_type
		ORDER BY cnt DESC LIMIT ?`, category, limit)
	if err != nil {
		return nil, fmt.Errorf("querying entity counts for category %q: %w", category, err)
	}
	defer rows.Close()

	var out []model.EntityCount
	for rows.Next() {
		var ec model.EntityCount
		var typ string
		if err := rows.Scan(&ec.Name, &typ, &ec.Count); err != nil {
			return nil, fmt.Errorf("scanning category entity count: %w", err)
		}
		ec.Type = model.NormalizeEntityType(typ)
		out = append(out, ec)
	}
	return out, rows.Err()
}

// LinkCompany records a company mention on an article.
func LinkCompany(ctx context.Context, ex QueryExecer, articleID int64, company string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO article_companies (article_id, company_name) VALUES (?, ?)`,
		articleID, company)
	if err != nil {
		return fmt.Errorf("linking company %q to article %d: %w", company, articleID, err)
	}
	return nil
}

// ArticleCompanies returns the companies mentioned in an article.
func ArticleCompanies(ctx context.Context, q Queryer, articleID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT company_name FROM article_companies WHERE article_id = ?`, articleID)
	if err != nil {
		return nil, fmt.Errorf("querying companies for article %d: %w", articleID, err)
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
