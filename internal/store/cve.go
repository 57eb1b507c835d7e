package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
)

// LinkCVE records an article's mention of a CVE identifier. A single
// article mentioning the same CVE twice is not an error.
func LinkCVE(ctx context.Context, ex QueryExecer, articleID int64, cveID string, published string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO article_cves (article_id, cve_id, published_date) VALUES (?, ?, ?)`,
		articleID, cveID, published)
	if err != nil {
		return fmt.Errorf("linking cve %s to article %d: %w", cveID, articleID, err)
	}
	return nil
}

// ArticleCVEs returns the CVE ids mentioned in an article.
func ArticleCVEs(ctx context.Context, q Queryer, articleID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT cve_id FROM article_cves WHERE article_id = ?`, articleID)
	if err != nil {
		return nil, fmt.Errorf("querying cves for article %d: %w", articleID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DistinctCVEIDs returns every unique CVE id ever mentioned: the CVE
// Refresher's candidate pool.
func DistinctCVEIDs(ctx context.Context, q Queryer) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT cve_id FROM article_cves`)
	if err != nil {
		return nil, fmt.Errorf("querying distinct cve ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CVEMentionCount counts how many articles mention a CVE, used to
// populate CVEInfo.TimesMentioned on refresh.
func CVEMentionCount(ctx context.Context, q Queryer, cveID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM article_cves WHERE cve_id = ?`, cveID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting mentions of %s: %w", cveID, err)
	}
	return n, nil
}

// UpsertCVEInfo inserts or refreshes enrichment metadata for a CVE.
func UpsertCVEInfo(ctx context.Context, ex QueryExecer, info model.CVEInfo) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO cve_info (
			cve_id, base_score, vendor, affected_products, cve_url,
			vendor_link, solution, times_mentioned, raw_json, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(cve_id) DO UPDATE SET
			base_score = excluded.base_score,
			vendor = excluded.vendor,
			affected_products = excluded.affected_products,
			cve_url = excluded.cve_url,
			vendor_link = excluded.vendor_link,
			solution = excluded.solution,
			times_mentioned = excluded.times_mentioned,
			raw_json = excluded.raw_json,
			updated_at = CURRENT_TIMESTAMP`,
		info.CVEID, info.BaseScore, info.Vendor, info.AffectedProducts, "",
		info.VendorURL, info.Solution, info.TimesMentioned, info.RawJSON)
	if err != nil {
		return fmt.Errorf("upserting cve info %s: %w", info.CVEID, err)
	}
	return nil
}

// GetCVEInfo fetches enrichment metadata for a CVE, returning
// (zero value, sql.ErrNoRows) if never enriched.
func GetCVEInfo(ctx context.Context, q Queryer, cveID string) (model.CVEInfo, error) {
	var info model.CVEInfo
	var baseScore sql.NullFloat64
	var vendor, affected, vendorLink, solution, rawJSON sql.NullString
	var updatedAt sql.NullString

	row := q.QueryRowContext(ctx, `
		SELECT cve_id, base_score, vendor, affected_products, vendor_link, solution, times_mentioned, raw_json, updated_at
		FROM cve_info WHERE cve_id = ?`, cveID)
	err := row.Scan(&info.CVEID, &baseScore, &vendor, &affected, &vendorLink, &solution, &info.TimesMentioned, &rawJSON, &updatedAt)
	if err != nil {
		return model.CVEInfo{}, err
	}

	info.BaseScore = baseScore.Float64
	info.Vendor = vendor.String
	info.AffectedProducts = affected.String
	info.VendorURL = vendorLink.String
	info.Solution = solution.String
	info.RawJSON = rawJSON.String
	if updatedAt.Valid {
		if t, err := model.ParseTime(updatedAt.String); err == nil {
			info.UpdatedAt = t
		}
	}
	return info, nil
}

// CVETableRows returns every enriched CVE with its full mention
// history aggregated (times_seen, first/last mention, article links,
// sources), ordered by mention count descending, backing the
// /api/cve_table Web API endpoint.
func CVETableRows(ctx context.Context, q Queryer) ([]model.CVETableRow, error) {
	return cveTableRows(ctx, q, "")
}

// CVETableRowsSince narrows CVETableRows to CVEs mentioned in an
// article published at or after since, and scopes each row's
// aggregates (times_seen, first/last mention, article links, sources)
// to mentions within that same window, backing /api/cve_table?hours=N.
func CVETableRowsSince(ctx context.Context, q Queryer, since string) ([]model.CVETableRow, error) {
	return cveTableRows(ctx, q, since)
}

func cveTableRows(ctx context.Context, q Queryer, since string) ([]model.CVETableRow, error) {
	baseQuery := `SELECT cve_id, base_score, vendor, affected_products, vendor_link, solution FROM cve_info`
	var baseArgs []any
	if since != "" {
		baseQuery += ` WHERE cve_id IN (
			SELECT DISTINCT ac.cve_id FROM article_cves ac
			JOIN articles a ON a.id = ac.article_id
			WHERE a.published_date >= ?)`
		baseArgs = append(baseArgs, since)
	}
	baseQuery += ` ORDER BY cve_id ASC`

	rows, err := q.QueryContext(ctx, baseQuery, baseArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying cve table: %w", err)
	}

	type baseRow struct {
		id               string
		baseScore        sql.NullFloat64
		vendor, affected sql.NullString
		vendorLink, sol  sql.NullString
	}
	var bases []baseRow
	for rows.Next() {
		var b baseRow
		if err := rows.Scan(&b.id, &b.baseScore, &b.vendor, &b.affected, &b.vendorLink, &b.sol); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning cve row: %w", err)
		}
		bases = append(bases, b)
	}
	closeErr := rows.Err()
	rows.Close()
	if closeErr != nil {
		return nil, closeErr
	}

	out := make([]model.CVETableRow, 0, len(bases))
	for _, b := range bases {
		row := model.CVETableRow{
			CVEID:            b.id,
			BaseScore:        b.baseScore.Float64,
			Vendor:           b.vendor.String,
			AffectedProducts: b.affected.String,
			VendorURL:        b.vendorLink.String,
			Solution:         b.sol.String,
		}
		if err := fillMentionWindow(ctx, q, &row, since); err != nil {
			return nil, err
		}
		out = append(out, row)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TimesSeen != out[j].TimesSeen {
			return out[i].TimesSeen > out[j].TimesSeen
		}
		return out[i].BaseScore > out[j].BaseScore
	})
	return out, nil
}

// fillMentionWindow populates row's times_seen, first/last mention,
// article links, and sorted unique sources from every article_cves
// mention at or after since (all mentions, when since is empty).
func fillMentionWindow(ctx context.Context, q Queryer, row *model.CVETableRow, since string) error {
	query := `
		SELECT a.link, a.source, ac.published_date
		FROM article_cves ac JOIN articles a ON a.id = ac.article_id
		WHERE ac.cve_id = ?`
	args := []any{row.CVEID}
	if since != "" {
		query += ` AND a.published_date >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY ac.published_date ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying mentions for %s: %w", row.CVEID, err)
	}
	defer rows.Close()

	sourceSeen := make(map[string]bool)
	var sources []string
	for rows.Next() {
		var link, source string
		var published sql.NullString
		if err := rows.Scan(&link, &source, &published); err != nil {
			return err
		}
		row.ArticleLinks = append(row.ArticleLinks, model.ArticleLink{URL: link, Source: source})
		if row.FirstMention == "" && published.Valid {
			row.FirstMention = published.String
		}
		if published.Valid {
			row.LastMention = published.String
		}
		if source != "" && !sourceSeen[source] {
			sourceSeen[source] = true
			sources = append(sources, source)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	row.TimesSeen = len(row.ArticleLinks)
	sort.Strings(sources)
	row.Sources = strings.Join(sources, ", ")
	return nil
}
