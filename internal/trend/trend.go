// Package trend implements the Trend Synthesizer: per-category,
// windowed detection of short-lived article clusters distinct from
// the longer-lived topical Groups.
package trend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"google.golang.org/genai"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/config"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/llm"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/logging"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/store"
)

var log = logging.For("trend")

// defaultMinTrends is the floor applied when WindowHours is left
// configurable but MinTrends is unset.
const defaultMinTrends = 6

// synthetic floor-fill constants governing the minimum-trend
// promotion step: when the window's total trend count (all categories
// together) falls short of the floor, the largest recent groups are
// promoted with these placeholder values.
const (
	floorImportance      = 5
	floorConfidence      = 0.8
	floorMaxArticles     = 10
	floorMaxEntities     = 5
	maxTitlesPerCategory = 60
	maxEntitiesInPrompt  = 20
)

// Synthesizer detects and persists short-lived trend clusters,
// category by category, on top of the longer-lived Groups maintained
// by the Grouping Coordinator and Merger.
type Synthesizer struct {
	db     *store.Store
	client *llm.Client
	cfg    config.TrendConfig
	now    func() time.Time
}

// New builds a Synthesizer. client may be nil, in which case no new
// trends are identified from article text and the run degenerates to
// cleanup plus the minimum-floor promotion of existing groups.
func New(db *store.Store, client *llm.Client, cfg config.TrendConfig) *Synthesizer {
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 48
	}
	if cfg.MinTrends <= 0 {
		cfg.MinTrends = defaultMinTrends
	}
	return &Synthesizer{db: db, client: client, cfg: cfg, now: time.Now}
}

// Stats summarizes one synthesis pass.
type Stats struct {
	Identified    int
	PersistFailed int
	FloorPromoted int
}

// Run executes one full pass: cleanup, per-category identification,
// then floor-filling.
func (s *Synthesizer) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	since := model.FormatTime(s.now().Add(-time.Duration(s.cfg.WindowHours) * time.Hour))

	if err := store.DeleteTrendsOlderThan(ctx, s.db.DB(), since); err != nil {
		return stats, fmt.Errorf("trend: cleanup: %w", err)
	}

	for _, category := range model.FixedCategories {
		n, failed, err := s.identifyCategory(ctx, category, since)
		if err != nil {
			log.Warn().Err(err).Str("category", category).Msg("trend: category identification failed")
			continue
		}
		stats.Identified += n
		stats.PersistFailed += failed
	}

	promoted, err := s.ensureMinimumTrends(ctx, since)
	if err != nil {
		log.Warn().Err(err).Msg("trend: floor-fill failed")
	}
	stats.FloorPromoted = promoted

	return stats, nil
}

// identifyCategory processes a single category: gather the window's
// articles and entity context, ask the LLM to name trend clusters,
// then persist each one.
func (s *Synthesizer) identifyCategory(ctx context.Context, category, since string) (persisted, failed int, err error) {
	if s.client == nil {
		return 0, 0, nil
	}

	articles, err := store.ArticlesByCategorySince(ctx, s.db.DB(), category, since)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching articles for %q: %w", category, err)
	}
	if len(articles) == 0 {
		return 0, 0, nil
	}
	if len(articles) > maxTitlesPerCategory {
		articles = articles[:maxTitlesPerCategory]
	}

	entityCounts, err := store.TrendEntityCounts(ctx, s.db.DB(), since)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching entity counts: %w", err)
	}

	trends, err := s.callIdentify(ctx, category, articles, entityCounts)
	if err != nil {
		return 0, 0, fmt.Errorf("identifying trends for %q: %w", category, err)
	}

	for _, t := range trends {
		if err := s.persistTrend(ctx, category, t, articles); err != nil {
			log.Warn().Err(err).Str("category", category).Str("label", t.TrendLabel).Msg("trend: persist failed")
			failed++
			continue
		}
		persisted++
	}
	return persisted, failed, nil
}

type trendCandidate struct {
	TrendLabel      string            `json:"trend_label"`
	Summary         string            `json:"summary"`
	ImportanceScore int               `json:"importance_score"`
	ConfidenceScore float64           `json:"confidence_score"`
	KeyEntities     []keyEntity       `json:"key_entities"`
	ArticleIndexes  []int             `json:"articles"`
}

type keyEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type identifyResponse struct {
	Trends []trendCandidate `json:"trends"`
}

var identifySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"trends": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"trend_label":      {Type: genai.TypeString},
					"summary":          {Type: genai.TypeString},
					"importance_score": {Type: genai.TypeInteger, Description: "1 to 10"},
					"confidence_score": {Type: genai.TypeNumber, Description: "0.0 to 1.0"},
					"key_entities": {
						Type: genai.TypeArray,
						Items: &genai.Schema{
							Type: genai.TypeObject,
							Properties: map[string]*genai.Schema{
								"name": {Type: genai.TypeString},
								"type": {Type: genai.TypeString},
							},
							Required: []string{"name", "type"},
						},
					},
					"articles": {
						Type:        genai.TypeArray,
						Items:       &genai.Schema{Type: genai.TypeInteger},
						Description: "0-based indexes into the provided article list",
					},
				},
				Required: []string{"trend_label", "summary", "importance_score", "confidence_score", "key_entities", "articles"},
			},
		},
	},
	Required: []string{"trends"},
}

// callIdentify asks the LLM to cluster the window's articles into
// named trends, prompted with titles+timestamps plus the window's
// most-mentioned entities (counted across all categories) as steering
// context.
func (s *Synthesizer) callIdentify(ctx context.Context, category string, articles []model.Article, entityCounts map[string]int) ([]trendCandidate, error) {
	prompt := buildIdentifyPrompt(category, articles, entityCounts)

	resp, err := s.client.ChatJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You identify emerging news trends within a single category from a list of recent article titles."},
		{Role: llm.RoleUser, Content: prompt},
	}, "", identifySchema, 0.3)
	if err != nil {
		return nil, err
	}

	var parsed identifyResponse
	if err := json.Unmarshal([]byte(llm.StripJSONFence(resp)), &parsed); err != nil {
		return nil, fmt.Errorf("parsing trend identification response: %w", err)
	}
	return parsed.Trends, nil
}

func buildIdentifyPrompt(category string, articles []model.Article, entityCounts map[string]int) string {
	prompt := fmt.Sprintf("Category: %s\n\nArticles (index: title @ published time):\n", category)
	for i, a := range articles {
		prompt += fmt.Sprintf("%d: %s @ %s\n", i, a.Title, model.FormatTime(a.Published))
	}

	top := topEntityNames(entityCounts, maxEntitiesInPrompt)
	if len(top) > 0 {
		prompt += "\nMost-mentioned entities in this window:\n"
		for _, name := range top {
			prompt += fmt.Sprintf("- %s (%d mentions)\n", name, entityCounts[name])
		}
	}

	prompt += "\nGroup these articles into 0 or more distinct emerging trends. Each trend's \"articles\" field must reference the 0-based indexes above. Only report a trend if at least two articles clearly relate to the same emerging development."
	return prompt
}

func topEntityNames(counts map[string]int, limit int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > limit {
		names = names[:limit]
	}
	return names
}

// persistTrend writes one identified trend and its memberships/key
// entities in a single transaction; invalid article indexes are
// skipped with a warning rather than aborting the whole trend.
func (s *Synthesizer) persistTrend(ctx context.Context, category string, t trendCandidate, articles []model.Article) error {
	if t.TrendLabel == "" || len(t.ArticleIndexes) < 2 {
		return fmt.Errorf("trend %q: fewer than 2 member articles", t.TrendLabel)
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		trendID, err := store.CreateTrend(ctx, tx, category, t.TrendLabel, t.Summary, clampImportance(t.ImportanceScore), clampUnit(t.ConfidenceScore))
		if err != nil {
			return err
		}

		for _, idx := range t.ArticleIndexes {
			if idx < 0 || idx >= len(articles) {
				log.Warn().Str("trend", t.TrendLabel).Int("index", idx).Msg("trend: skipping out-of-range article index")
				continue
			}
			if err := store.AddArticleToTrend(ctx, tx, trendID, articles[idx].ID); err != nil {
				return err
			}
		}

		for _, ke := range t.KeyEntities {
			entityID, err := store.UpsertEntity(ctx, tx, ke.Name, model.NormalizeEntityType(ke.Type), "")
			if err != nil {
				log.Warn().Err(err).Str("trend", t.TrendLabel).Str("entity", ke.Name).Msg("trend: skipping key entity")
				continue
			}
			if err := store.LinkEntityToTrend(ctx, tx, trendID, entityID, 1.0); err != nil {
				return err
			}
		}
		return nil
	})
}

// ensureMinimumTrends is the floor-fill step: when the window's trend
// count falls short of cfg.MinTrends, promote the highest-membership
// recent Groups (skipping any whose label already exists as a trend)
// as synthetic trends.
func (s *Synthesizer) ensureMinimumTrends(ctx context.Context, since string) (int, error) {
	count, err := store.CountTrendsSince(ctx, s.db.DB(), since)
	if err != nil {
		return 0, err
	}
	deficit := s.cfg.MinTrends - count
	if deficit <= 0 {
		return 0, nil
	}

	existing, err := store.TrendsSince(ctx, s.db.DB(), since)
	if err != nil {
		return 0, err
	}
	existingLabels := make(map[string]bool, len(existing))
	for _, t := range existing {
		existingLabels[t.Label] = true
	}

	candidates, err := store.RecentGroups(ctx, s.db.DB(), deficit*3+10)
	if err != nil {
		return 0, err
	}
	sizes := make(map[int64]int, len(candidates))
	for _, g := range candidates {
		if n, err := store.GroupSize(ctx, s.db.DB(), g.ID); err == nil {
			sizes[g.ID] = n
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return sizes[candidates[i].ID] > sizes[candidates[j].ID] })

	promoted := 0
	for _, g := range candidates {
		if promoted >= deficit {
			break
		}
		if existingLabels[g.Label] {
			continue
		}

		memberIDs, err := store.GroupMemberIDs(ctx, s.db.DB(), g.ID)
		if err != nil || len(memberIDs) == 0 {
			continue
		}
		if len(memberIDs) > floorMaxArticles {
			memberIDs = memberIDs[:floorMaxArticles]
		}

		if err := s.promoteGroup(ctx, g, memberIDs); err != nil {
			log.Warn().Err(err).Int64("group", g.ID).Msg("trend: floor promotion failed")
			continue
		}
		existingLabels[g.Label] = true
		promoted++
	}
	return promoted, nil
}

func (s *Synthesizer) promoteGroup(ctx context.Context, g model.Group, memberIDs []int64) error {
	summary := g.Description
	if summary == "" {
		summary = fmt.Sprintf("Ongoing coverage of %s.", g.Label)
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		trendID, err := store.CreateTrend(ctx, tx, g.MainTopic, g.Label, summary, floorImportance, floorConfidence)
		if err != nil {
			return err
		}
		for _, articleID := range memberIDs {
			if err := store.AddArticleToTrend(ctx, tx, trendID, articleID); err != nil {
				return err
			}
		}

		entities, err := store.GroupEntities(ctx, tx, g.ID)
		if err != nil {
			return nil // entity context is best-effort for a synthetic trend
		}
		sort.Slice(entities, func(i, j int) bool { return entities[i].Relevance > entities[j].Relevance })
		if len(entities) > floorMaxEntities {
			entities = entities[:floorMaxEntities]
		}
		for _, e := range entities {
			if err := store.LinkEntityToTrend(ctx, tx, trendID, e.EntityID, e.Relevance); err != nil {
				return err
			}
		}
		return nil
	})
}

func clampImportance(n int) int {
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
