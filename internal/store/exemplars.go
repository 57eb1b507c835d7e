package store

import (
	"context"
	"fmt"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
)

// CreateExemplar inserts a new blessed prototype group.
func CreateExemplar(ctx context.Context, ex QueryExecer, category, patternName, description string, successScore float64) (int64, error) {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO exemplar_groups (category, pattern_name, pattern_description, success_score)
		VALUES (?, ?, ?, ?)`, category, patternName, description, successScore)
	if err != nil {
		return 0, fmt.Errorf("creating exemplar %q: %w", patternName, err)
	}
	return res.LastInsertId()
}

// AddArticleToExemplar tags an article as belonging to an exemplar's
// evidence set.
func AddArticleToExemplar(ctx context.Context, ex QueryExecer, exemplarID, articleID int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO exemplar_articles (exemplar_id, article_id) VALUES (?, ?)`,
		exemplarID, articleID)
	if err != nil {
		return fmt.Errorf("adding article %d to exemplar %d: %w", articleID, exemplarID, err)
	}
	return nil
}

// ExemplarsByCategory returns the exemplars available as prompting
// context for a category, highest success_score first, used by the
// Grouping Coordinator's LLM arbitration prompt.
func ExemplarsByCategory(ctx context.Context, q Queryer, category string) ([]model.Exemplar, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT exemplar_id, category, pattern_name, pattern_description, success_score, created_at
		FROM exemplar_groups WHERE category = ? ORDER BY success_score DESC`, category)
	if err != nil {
		return nil, fmt.Errorf("querying exemplars for %q: %w", category, err)
	}
	defer rows.Close()

	var out []model.Exemplar
	for rows.Next() {
		var e model.Exemplar
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Category, &e.PatternName, &e.PatternDesc, &e.SuccessScore, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning exemplar: %w", err)
		}
		if t, err := model.ParseTime(createdAt); err == nil {
			e.CreatedAt = t
		}
		ids, err := exemplarArticleIDs(ctx, q, e.ID)
		if err != nil {
			return nil, err
		}
		e.ArticleIDs = ids
		out = append(out, e)
	}
	return out, rows.Err()
}

func exemplarArticleIDs(ctx context.Context, q Queryer, exemplarID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT article_id FROM exemplar_articles WHERE exemplar_id = ?`, exemplarID)
	if err != nil {
		return nil, fmt.Errorf("querying exemplar articles for %d: %w", exemplarID, err)
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
