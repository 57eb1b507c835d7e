package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
)

func scanTrend(row interface{ Scan(...any) error }) (model.Trend, error) {
	var t model.Trend
	var createdAt, updatedAt sql.NullString
	if err := row.Scan(&t.ID, &t.Category, &t.Label, &t.Summary, &t.Importance, &t.Confidence, &createdAt, &updatedAt); err != nil {
		return model.Trend{}, err
	}
	if createdAt.Valid {
		if parsed, err := model.ParseTime(createdAt.String); err == nil {
			t.CreatedAt = parsed
		}
	}
	if updatedAt.Valid {
		if parsed, err := model.ParseTime(updatedAt.String); err == nil {
			t.UpdatedAt = parsed
		}
	}
	return t, nil
}

const trendColumns = `trend_id, category, trend_label, summary, importance_score, confidence_score, created_at, updated_at`

// CreateTrend inserts a new trend cluster, returning its id.
func CreateTrend(ctx context.Context, ex QueryExecer, category, label, summary string, importance int, confidence float64) (int64, error) {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO trending_groups (category, trend_label, summary, importance_score, confidence_score)
		VALUES (?, ?, ?, ?, ?)`, category, label, summary, importance, confidence)
	if err != nil {
		return 0, fmt.Errorf("creating trend %q: %w", label, err)
	}
	return res.LastInsertId()
}

// AddArticleToTrend links an article into a trend's membership.
func AddArticleToTrend(ctx context.Context, ex QueryExecer, trendID, articleID int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO trending_group_memberships (article_id, trend_id) VALUES (?, ?)`,
		articleID, trendID)
	if err != nil {
		return fmt.Errorf("adding article %d to trend %d: %w", articleID, trendID, err)
	}
	return nil
}

// TrendsSince returns every trend touched at or after since, backing
// /api/trending. Ordered by importance_score descending.
func TrendsSince(ctx context.Context, q Queryer, since string) ([]model.Trend, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+trendColumns+` FROM trending_groups
		WHERE updated_at >= ? ORDER BY importance_score DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("querying trends since %s: %w", since, err)
	}
	defer rows.Close()

	var out []model.Trend
	for rows.Next() {
		t, err := scanTrend(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trend: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TrendsByCategorySince narrows TrendsSince to a single category,
// capped at limit, backing /api/trending?category=X&limit=N&hours=N.
func TrendsByCategorySince(ctx context.Context, q Queryer, category, since string, limit int) ([]model.Trend, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+trendColumns+` FROM trending_groups
		WHERE category = ? AND updated_at >= ?
		ORDER BY importance_score DESC LIMIT ?`, category, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying trends for category %q since %s: %w", category, since, err)
	}
	defer rows.Close()

	var out []model.Trend
	for rows.Next() {
		t, err := scanTrend(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trend: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TopTrends returns the N highest-importance trends regardless of
// recency. Nothing in this module calls it; ensureMinimumTrends fills
// the floor from RecentGroups.
func TopTrends(ctx context.Context, q Queryer, limit int) ([]model.Trend, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+trendColumns+` FROM trending_groups
		ORDER BY importance_score DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top trends: %w", err)
	}
	defer rows.Close()

	var out []model.Trend
	for rows.Next() {
		t, err := scanTrend(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trend: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTrendsSince reports how many trends have been touched since
// the window start, used to decide whether ensureMinimumTrends needs
// to top up the floor.
func CountTrendsSince(ctx context.Context, q Queryer, since string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM trending_groups WHERE updated_at >= ?`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting trends since %s: %w", since, err)
	}
	return n, nil
}

// DeleteTrendsOlderThan removes trend clusters (and, via cascade,
// their memberships) that fell out of the trailing window.
func DeleteTrendsOlderThan(ctx context.Context, ex QueryExecer, cutoff string) error {
	_, err := ex.ExecContext(ctx, `DELETE FROM trending_groups WHERE updated_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("cleaning up trends older than %s: %w", cutoff, err)
	}
	return nil
}

// TrendEntityCountsRanked is TrendEntityCounts with type information
// and a limit, ordered by mention count, backing
// /api/trending_entities?hours=N&limit=N.
func TrendEntityCountsRanked(ctx context.Context, q Queryer, since string, limit int) ([]model.EntityCount, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT e.entity_name, e.entity_type, COUNT(*) AS cnt
		FROM article_entities ae
		JOIN entity_profiles e ON e.entity_id = ae.entity_id
		JOIN articles a ON a.id = ae.article_id
		WHERE a.published_date >= ?
		GROUP BY e.entity_name, e.entity_type
		ORDER BY cnt DESC LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("ranking trend entities since %s: %w", since, err)
	}
	defer rows.Close()

	var out []model.EntityCount
	for rows.Next() {
		var ec model.EntityCount
		var typ string
		if err := rows.Scan(&ec.Name, &typ, &ec.Count); err != nil {
			return nil, fmt.Errorf("scanning ranked trend entity: %w", err)
		}
		ec.Type = model.NormalizeEntityType(typ)
		out = append(out, ec)
	}
	return out, rows.Err()
}

// TrendEntityCounts returns how often each entity appears across
// trend-eligible articles within the window, keyed by entity name,
// used as steering context in the trend-identification prompt.
func TrendEntityCounts(ctx context.Context, q Queryer, since string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT e.entity_name, COUNT(*) AS cnt
		FROM article_entities ae
		JOIN entity_profiles e ON e.entity_id = ae.entity_id
		JOIN articles a ON a.id = ae.article_id
		WHERE a.published_date >= ?
		GROUP BY e.entity_name
		ORDER BY cnt DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("counting trend entities since %s: %w", since, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var cnt int
		if err := rows.Scan(&name, &cnt); err != nil {
			return nil, err
		}
		out[name] = cnt
	}
	return out, rows.Err()
}
