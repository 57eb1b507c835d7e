package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
)

func scanGroup(row interface{ Scan(...any) error }) (model.Group, error) {
	var g model.Group
	var desc sql.NullString
	var createdAt, updatedAt sql.NullString
	if err := row.Scan(&g.ID, &g.MainTopic, &g.SubTopic, &g.Label, &desc, &g.ConsistencyScore, &createdAt, &updatedAt); err != nil {
		return model.Group{}, err
	}
	g.Description = desc.String
	if createdAt.Valid {
		if t, err := model.ParseTime(createdAt.String); err == nil {
			g.CreatedAt = t
		}
	}
	if updatedAt.Valid {
		if t, err := model.ParseTime(updatedAt.String); err == nil {
			g.UpdatedAt = t
		}
	}
	return g, nil
}

const groupColumns = `group_id, main_topic, sub_topic, group_label, description, consistency_score, created_at, updated_at`

// CreateGroup inserts a new group seeded by its first article,
// returning the new group_id.
func CreateGroup(ctx context.Context, ex QueryExecer, mainTopic, subTopic, label, description string) (int64, error) {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO two_phase_article_groups (main_topic, sub_topic, group_label, description, consistency_score)
		VALUES (?, ?, ?, ?, 1.0)`, mainTopic, subTopic, label, description)
	if err != nil {
		return 0, fmt.Errorf("creating group %q: %w", label, err)
	}
	return res.LastInsertId()
}

// GetGroup fetches a single group by id.
func GetGroup(ctx context.Context, q Queryer, groupID int64) (model.Group, error) {
	row := q.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM two_phase_article_groups WHERE group_id = ?`, groupID)
	g, err := scanGroup(row)
	if err != nil {
		return model.Group{}, fmt.Errorf("scanning group %d: %w", groupID, err)
	}
	return g, nil
}

// GroupsByCategory returns every group under mainTopic, most recently
// updated first, backing /api/category_groups.
func GroupsByCategory(ctx context.Context, q Queryer, mainTopic string) ([]model.Group, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+groupColumns+` FROM two_phase_article_groups
		WHERE main_topic = ? ORDER BY updated_at DESC`, mainTopic)
	if err != nil {
		return nil, fmt.Errorf("querying groups for category %q: %w", mainTopic, err)
	}
	defer rows.Close()

	var out []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// RecentGroups returns the most recently updated groups across all
// categories, used by the Trend Synthesizer's floor-filling fallback.
func RecentGroups(ctx context.Context, q Queryer, limit int) ([]model.Group, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+groupColumns+` FROM two_phase_article_groups
		ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent groups: %w", err)
	}
	defer rows.Close()

	var out []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// homeGroupsPerCategory caps how many groups /api/home_groups surfaces
// per category.
const homeGroupsPerCategory = 3

// homeGroupPreviewLimit caps how many member-article body previews a
// single home-group entry carries.
const homeGroupPreviewLimit = 3

// homeGroupPreviewChars is the body-prefix length of each preview.
const homeGroupPreviewChars = 300

// HomeGroupsSince returns, for every fixed category, its top-3 most
// recently updated groups touched at or after since, each carrying its
// current member count and up to homeGroupPreviewLimit 300-char body
// previews from its most recently published member articles. Backs
// /api/home_groups?hours=N.
func HomeGroupsSince(ctx context.Context, q Queryer, since string) (map[string][]model.GroupSummary, error) {
	out := make(map[string][]model.GroupSummary)
	for _, category := range model.FixedCategories {
		rows, err := q.QueryContext(ctx, `
			SELECT `+groupColumns+` FROM two_phase_article_groups
			WHERE main_topic = ? AND updated_at >= ?
			ORDER BY updated_at DESC LIMIT ?`, category, since, homeGroupsPerCategory)
		if err != nil {
			return nil, fmt.Errorf("querying home groups for category %q: %w", category, err)
		}
		var groups []model.Group
		for rows.Next() {
			g, err := scanGroup(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning group: %w", err)
			}
			groups = append(groups, g)
		}
		closeErr := rows.Err()
		rows.Close()
		if closeErr != nil {
			return nil, closeErr
		}
		if len(groups) == 0 {
			continue
		}

		summaries := make([]model.GroupSummary, 0, len(groups))
		for _, g := range groups {
			memberCount, err := GroupSize(ctx, q, g.ID)
			if err != nil {
				return nil, err
			}
			previews, err := groupMemberPreviews(ctx, q, g.ID, homeGroupPreviewLimit, homeGroupPreviewChars)
			if err != nil {
				return nil, err
			}
			summaries = append(summaries, model.GroupSummary{
				ID:               g.ID,
				MainTopic:        g.MainTopic,
				SubTopic:         g.SubTopic,
				Label:            g.Label,
				Description:      g.Description,
				ConsistencyScore: g.ConsistencyScore,
				CreatedAt:        g.CreatedAt,
				UpdatedAt:        g.UpdatedAt,
				MemberCount:      memberCount,
				Previews:         previews,
			})
		}
		out[category] = summaries
	}
	return out, nil
}

// groupMemberPreviews returns up to limit body-prefixes (each capped
// at chars characters) from a group's most recently published member
// articles.
func groupMemberPreviews(ctx context.Context, q Queryer, groupID int64, limit, chars int) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT a.content FROM articles a
		JOIN two_phase_article_group_memberships m ON m.article_id = a.id
		WHERE m.group_id = ?
		ORDER BY a.published_date DESC LIMIT ?`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying previews for group %d: %w", groupID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var body sql.NullString
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		text := body.String
		if len(text) > chars {
			text = text[:chars]
		}
		out = append(out, text)
	}
	return out, rows.Err()
}

// GroupsByCategorySince narrows GroupsByCategory to groups touched at
// or after since, backing /api/category_groups?category=X&hours=N.
func GroupsByCategorySince(ctx context.Context, q Queryer, mainTopic, since string) ([]model.Group, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+groupColumns+` FROM two_phase_article_groups
		WHERE main_topic = ? AND updated_at >= ? ORDER BY updated_at DESC`, mainTopic, since)
	if err != nil {
		return nil, fmt.Errorf("querying groups for category %q since %s: %w", mainTopic, since, err)
	}
	defer rows.Close()

	var out []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// AttachArticleToGroup adds an article to a group's membership and
// bumps the group's updated_at so timestamps stay current on every
// mutating write.
func AttachArticleToGroup(ctx context.Context, ex QueryExecer, articleID, groupID int64) error {
	if _, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO two_phase_article_group_memberships (article_id, group_id)
		VALUES (?, ?)`, articleID, groupID); err != nil {
		return fmt.Errorf("attaching article %d to group %d: %w", articleID, groupID, err)
	}
	if _, err := ex.ExecContext(ctx, `
		UPDATE two_phase_article_groups SET updated_at = CURRENT_TIMESTAMP WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("touching group %d: %w", groupID, err)
	}
	return nil
}

// MoveArticleToGroup reassigns an article from one group to another in
// a single statement pair, used by the Merger to fold a losing group's
// membership into the surviving group.
func MoveArticleToGroup(ctx context.Context, ex QueryExecer, articleID, fromGroupID, toGroupID int64) error {
	if _, err := ex.ExecContext(ctx, `
		DELETE FROM two_phase_article_group_memberships WHERE article_id = ? AND group_id = ?`,
		articleID, fromGroupID); err != nil {
		return fmt.Errorf("detaching article %d from group %d: %w", articleID, fromGroupID, err)
	}
	return AttachArticleToGroup(ctx, ex, articleID, toGroupID)
}

// GroupMemberIDs returns the article ids currently in a group.
func GroupMemberIDs(ctx context.Context, q Queryer, groupID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT article_id FROM two_phase_article_group_memberships WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying members of group %d: %w", groupID, err)
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

// GroupSize returns the number of articles currently in a group,
// used by the size-based threshold adjustment.
func GroupSize(ctx context.Context, q Queryer, groupID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM two_phase_article_group_memberships WHERE group_id = ?`, groupID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting members of group %d: %w", groupID, err)
	}
	return n, nil
}

// AllGroupIDs returns every group id, used by the Merger's pairwise
// comparison sweep and the Trend Synthesizer's candidate pool.
func AllGroupIDs(ctx context.Context, q Queryer) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT group_id FROM two_phase_article_groups ORDER BY group_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying all group ids: %w", err)
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

// UpdateGroupLabel relabels a group, used by the Merger's LLM
// relabeling step after two groups are folded together.
func UpdateGroupLabel(ctx context.Context, ex QueryExecer, groupID int64, label, description string) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE two_phase_article_groups
		SET group_label = ?, description = ?, updated_at = CURRENT_TIMESTAMP
		WHERE group_id = ?`, label, description, groupID)
	if err != nil {
		return fmt.Errorf("relabeling group %d: %w", groupID, err)
	}
	return nil
}

// UpdateGroupConsistency sets a group's consistency_score, used to
// surface groups whose membership has drifted from its label.
func UpdateGroupConsistency(ctx context.Context, ex QueryExecer, groupID int64, score float64) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE two_phase_article_groups SET consistency_score = ? WHERE group_id = ?`, score, groupID)
	if err != nil {
		return fmt.Errorf("updating consistency for group %d: %w", groupID, err)
	}
	return nil
}

// DeleteGroup removes a group and (via ON DELETE CASCADE) its
// memberships and group_entities rows, used by the Merger once a
// losing group's articles have been moved to the survivor.
func DeleteGroup(ctx context.Context, ex QueryExecer, groupID int64) error {
	_, err := ex.ExecContext(ctx, `DELETE FROM two_phase_article_groups WHERE group_id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("deleting group %d: %w", groupID, err)
	}
	return nil
}
