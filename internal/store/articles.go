package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/apperr"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
)

// InsertArticle inserts a new article, skipping silently (returning 0,
// nil) if the link already exists.
func InsertArticle(ctx context.Context, ex QueryExecer, a model.Article) (int64, error) {
	res, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO articles (link, title, content, published_date, source)
		VALUES (?, ?, ?, ?, ?)`,
		a.URL, a.Title, a.Body, model.FormatTime(a.Published), a.Source)
	if err != nil {
		return 0, apperr.Busy(fmt.Errorf("inserting article %s: %w", a.URL, err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted article id: %w", err)
	}
	if id == 0 {
		return ArticleIDByURL(ctx, ex, a.URL)
	}
	return id, nil
}

// ArticleIDByURL looks up an existing article's id by its link.
func ArticleIDByURL(ctx context.Context, q Queryer, url string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM articles WHERE link = ?`, url).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("looking up article by url: %w", err)
	}
	return id, nil
}

func scanArticle(row interface{ Scan(...any) error }) (model.Article, error) {
	var a model.Article
	var published, processed sql.NullString
	if err := row.Scan(&a.ID, &a.URL, &a.Title, &a.Body, &published, &a.Source, &processed); err != nil {
		return model.Article{}, err
	}
	if published.Valid {
		if t, err := model.ParseTime(published.String); err == nil {
			a.Published = t
		}
	}
	return a, nil
}

// GetArticle fetches a single article by id.
func GetArticle(ctx context.Context, q Queryer, articleID int64) (model.Article, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, link, title, content, published_date, source, processed_date
		FROM articles WHERE id = ?`, articleID)
	a, err := scanArticle(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Article{}, fmt.Errorf("article %d: %w", articleID, sql.ErrNoRows)
		}
		return model.Article{}, fmt.Errorf("scanning article %d: %w", articleID, err)
	}
	return a, nil
}

// UngroupedArticles returns articles that have no
// two_phase_article_group_memberships row yet: the Grouping
// Coordinator's intake query, newest published first.
func UngroupedArticles(ctx context.Context, q Queryer, limit int) ([]model.Article, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT a.id, a.link, a.title, a.content, a.published_date, a.source, a.processed_date
		FROM articles a
		LEFT JOIN two_phase_article_group_memberships m ON m.article_id = a.id
		WHERE m.article_id IS NULL
		ORDER BY a.published_date DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ungrouped articles: %w", err)
	}
	defer rows.Close()

	var out []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ungrouped article: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ArticlesPublishedSince returns every article published at or after
// since, used by the Trend Synthesizer's 48h window query.
func ArticlesPublishedSince(ctx context.Context, q Queryer, since string) ([]model.Article, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, link, title, content, published_date, source, processed_date
		FROM articles WHERE published_date >= ? ORDER BY published_date DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("querying recent articles: %w", err)
	}
	defer rows.Close()

	var out []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning recent article: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ArticlesMissingEntities returns articles with no article_entities
// row yet: the Enricher's intake query for unprocessed articles.
func ArticlesMissingEntities(ctx context.Context, q Queryer, limit int) ([]model.Article, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT a.id, a.link, a.title, a.content, a.published_date, a.source, a.processed_date
		FROM articles a
		WHERE NOT EXISTS (SELECT 1 FROM article_entities ae WHERE ae.article_id = a.id)
		ORDER BY a.published_date DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying articles missing entities: %w", err)
	}
	defer rows.Close()

	var out []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning unenriched article: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ArticlesByCategorySince returns the articles published at or after
// since that belong to a group in the given main_topic category.
func ArticlesByCategorySince(ctx context.Context, q Queryer, category, since string) ([]model.Article, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT a.id, a.link, a.title, a.content, a.published_date, a.source, a.processed_date
		FROM articles a
		JOIN two_phase_article_group_memberships m ON m.article_id = a.id
		JOIN two_phase_article_groups g ON g.group_id = m.group_id
		WHERE g.main_topic = ? AND a.published_date >= ?
		ORDER BY a.published_date DESC`, category, since)
	if err != nil {
		return nil, fmt.Errorf("querying articles for category %q since %s: %w", category, since, err)
	}
	defer rows.Close()

	var out []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning category article: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
