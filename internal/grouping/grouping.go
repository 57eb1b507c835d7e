// Package grouping implements the Grouping Coordinator: matching each
// newly enriched article to an existing topical group or spinning up
// a new one.
package grouping

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"google.golang.org/genai"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/config"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/llm"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/signature"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/similarity"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/store"
)

// Outcome describes what happened to an article after processing.
type Outcome string

const (
	OutcomeAddedToExisting Outcome = "added_to_existing"
	OutcomeCreatedNew      Outcome = "created_new"
)

// Result is returned by ProcessArticle.
type Result struct {
	ArticleID    int64
	Outcome      Outcome
	GroupID      int64
	Score        float64
	LLMChecked   bool
}

// Coordinator matches ungrouped articles against existing groups.
type Coordinator struct {
	db     *store.Store
	client *llm.Client
	cfg    config.GroupingConfig
}

// New builds a Coordinator. client may be nil, in which case ambiguous
// cases fall back to plain threshold logic and new groups fall back to
// the "Other" category with a "Group for <title>" label.
func New(db *store.Store, client *llm.Client, cfg config.GroupingConfig) *Coordinator {
	return &Coordinator{db: db, client: client, cfg: cfg}
}

type candidate struct {
	group     model.Group
	groupSig  signature.Group
	score     float64
	threshold float64
}

// dynamicThreshold computes the per-group similarity threshold from
// its category and size adjustments, clamped to [ThresholdMin,
// ThresholdMax].
func (c *Coordinator) dynamicThreshold(category string, groupSize int) float64 {
	threshold := c.cfg.BaseThreshold
	if adj, ok := c.cfg.CategoryAdjust[category]; ok {
		threshold += adj
	}

	breakpoints := c.cfg.SizeBreakpoints
	adjustments := c.cfg.SizeAdjustments
	if len(adjustments) == len(breakpoints)+1 {
		idx := 0
		for i, bp := range breakpoints {
			if groupSize > bp {
				idx = i + 1
			} else {
				break
			}
		}
		threshold += adjustments[idx]
	}

	if threshold < c.cfg.ThresholdMin {
		return c.cfg.ThresholdMin
	}
	if threshold > c.cfg.ThresholdMax {
		return c.cfg.ThresholdMax
	}
	return threshold
}

// candidateGroupIDs is the quick-match pre-filter: if another article
// already shares this article's exact core-entity-set hash, full
// scoring is narrowed to only the groups those articles belong to
// (a near-duplicate repost almost certainly belongs with them). Groups
// outside that shortlist are not scored at all, so one of them that
// would have scored higher is never considered. When no hash sibling
// belongs to a group, every group is scored.
func (c *Coordinator) candidateGroupIDs(ctx context.Context, articleID int64, hash string) ([]int64, error) {
	siblings, err := store.ArticlesWithHash(ctx, c.db.DB(), hash, articleID)
	if err != nil {
		return nil, fmt.Errorf("grouping: quick-match lookup: %w", err)
	}
	if len(siblings) > 0 {
		groupIDs, err := store.GroupIDsForArticles(ctx, c.db.DB(), siblings)
		if err != nil {
			return nil, fmt.Errorf("grouping: quick-match group lookup: %w", err)
		}
		if len(groupIDs) > 0 {
			return groupIDs, nil
		}
	}

	groupIDs, err := store.AllGroupIDs(ctx, c.db.DB())
	if err != nil {
		return nil, fmt.Errorf("grouping: listing groups: %w", err)
	}
	return groupIDs, nil
}

// ProcessArticle matches articleID against the existing groups (only
// the quick-match shortlist when candidateGroupIDs finds one),
// attaching it to the best match or creating a new group: a clear
// match above threshold, an ambiguity zone with optional LLM
// arbitration, or a clear miss that starts a new group. Each candidate
// group's signature is rebuilt from the Store on every call; nothing is
// cached between articles.
func (c *Coordinator) ProcessArticle(ctx context.Context, articleID int64) (Result, error) {
	articleSig, err := signature.Build(ctx, c.db.DB(), articleID)
	if err != nil {
		return Result{}, fmt.Errorf("grouping: building signature for article %d: %w", articleID, err)
	}

	hash := signature.EntityHash(articleSig)
	if err := store.SetArticleSignatureHash(ctx, c.db.DB(), articleID, hash); err != nil {
		return Result{}, fmt.Errorf("grouping: storing quick-match hash: %w", err)
	}

	groupIDs, err := c.candidateGroupIDs(ctx, articleID, hash)
	if err != nil {
		return Result{}, err
	}

	candidates := make([]candidate, 0, len(groupIDs))
	for _, gid := range groupIDs {
		g, err := store.GetGroup(ctx, c.db.DB(), gid)
		if err != nil {
			continue
		}
		memberIDs, err := store.GroupMemberIDs(ctx, c.db.DB(), gid)
		if err != nil || len(memberIDs) == 0 {
			continue
		}
		groupSig, err := signature.BuildGroup(ctx, c.db.DB(), g, memberIDs)
		if err != nil {
			continue
		}
		scores := similarity.ArticleToGroup(articleSig, groupSig)
		candidates = append(candidates, candidate{
			group:     g,
			groupSig:  groupSig,
			score:     scores.Final,
			threshold: c.dynamicThreshold(g.MainTopic, len(memberIDs)),
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	var best, second *candidate
	if len(candidates) > 0 {
		best = &candidates[0]
	}
	if len(candidates) > 1 {
		second = &candidates[1]
	}

	decision, groupID, llmChecked, score := c.decide(ctx, articleID, articleSig, candidates, best, second)

	if decision == OutcomeAddedToExisting {
		err := c.db.Transaction(ctx, func(tx *sql.Tx) error {
			return store.AttachArticleToGroup(ctx, tx, articleID, groupID)
		})
		if err != nil {
			return Result{}, fmt.Errorf("grouping: attaching article %d to group %d: %w", articleID, groupID, err)
		}
		return Result{ArticleID: articleID, Outcome: OutcomeAddedToExisting, GroupID: groupID, Score: score, LLMChecked: llmChecked}, nil
	}

	newGroupID, err := c.createGroup(ctx, articleID, candidates)
	if err != nil {
		return Result{}, err
	}
	return Result{ArticleID: articleID, Outcome: OutcomeCreatedNew, GroupID: newGroupID, LLMChecked: llmChecked}, nil
}

// decide applies the above-threshold and ambiguity-zone rules to pick
// between attaching to the best candidate, arbitrating via the LLM, or
// starting a new group.
func (c *Coordinator) decide(ctx context.Context, articleID int64, articleSig signature.Article, candidates []candidate, best, second *candidate) (Outcome, int64, bool, float64) {
	if best == nil {
		return OutcomeCreatedNew, 0, false, 0
	}

	aboveThreshold := best.score >= best.threshold
	secondScore := -1.0
	if second != nil {
		secondScore = second.score
	}

	inAmbiguityZone := (best.threshold-c.cfg.AmbiguityZoneBelow <= best.score && best.score < best.threshold+c.cfg.AmbiguityZoneAbove) ||
		(aboveThreshold && secondScore >= 0 && best.score-secondScore < c.cfg.MaxScoreGapAmbiguous)

	switch {
	case aboveThreshold && !inAmbiguityZone:
		return OutcomeAddedToExisting, best.group.ID, false, best.score

	case c.cfg.EnableLLMArbitration && inAmbiguityZone && c.client != nil:
		chosen, ok := c.arbitrate(ctx, articleID, articleSig, candidates)
		if ok {
			if chosen == 0 {
				return OutcomeCreatedNew, 0, true, best.score
			}
			return OutcomeAddedToExisting, chosen, true, best.score
		}
		if aboveThreshold {
			return OutcomeAddedToExisting, best.group.ID, true, best.score
		}
		return OutcomeCreatedNew, 0, true, best.score

	case aboveThreshold:
		return OutcomeAddedToExisting, best.group.ID, false, best.score

	default:
		return OutcomeCreatedNew, 0, false, best.score
	}
}

// arbitration is the structured response shape requested of the LLM:
// the group id (0 if none fit) of the best semantic match among the
// top candidates.
type arbitrationResponse struct {
	GroupID int64 `json:"group_id"`
}

var arbitrationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"group_id": {Type: genai.TypeInteger, Description: "Best matching group id, or 0 if none fit."},
	},
	Required: []string{"group_id"},
}

// arbitrate asks the model to pick among the top 3 candidates by
// label, description, key entities and similarity score. It returns
// (0, true) when the model answers 0 (none fit), and ok=false when the
// call fails, the reply does not parse, or the id is not a candidate.
func (c *Coordinator) arbitrate(ctx context.Context, articleID int64, articleSig signature.Article, candidates []candidate) (int64, bool) {
	top := candidates
	if len(top) > 3 {
		top = top[:3]
	}
	if len(top) == 0 {
		return 0, false
	}

	var entityNames []string
	for i, e := range articleSig.PrimaryEntities {
		if i >= 10 {
			break
		}
		entityNames = append(entityNames, e.Name)
	}

	prompt := fmt.Sprintf("Article %d (entities: %v) needs grouping. Candidates:\n", articleID, entityNames)
	validIDs := make(map[int64]bool, len(top))
	for _, cand := range top {
		validIDs[cand.group.ID] = true
		var keyEntities []string
		for i, e := range cand.groupSig.PrimaryEntities {
			if i >= 5 {
				break
			}
			keyEntities = append(keyEntities, e.Name)
		}
		prompt += fmt.Sprintf("- Group %d %q (score %.2f, key entities: %v): %s\n", cand.group.ID, cand.group.Label, cand.score, keyEntities, cand.group.Description)
	}
	prompt += "\nReturn the id of the group that is the best semantic fit, or 0 if none truly fit."

	resp, err := c.client.ChatJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are an expert news analyst judging topical fit between an article and candidate groups."},
		{Role: llm.RoleUser, Content: prompt},
	}, "", arbitrationSchema, 0.0)
	if err != nil {
		return 0, false
	}

	var parsed arbitrationResponse
	if err := json.Unmarshal([]byte(llm.StripJSONFence(resp)), &parsed); err != nil {
		return 0, false
	}
	if parsed.GroupID == 0 {
		return 0, true
	}
	if !validIDs[parsed.GroupID] {
		return 0, false
	}
	return parsed.GroupID, true
}

type newGroupResponse struct {
	MainTopic   string `json:"main_topic"`
	GroupLabel  string `json:"group_label"`
	Description string `json:"description"`
}

var newGroupSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"main_topic":  {Type: genai.TypeString},
		"group_label": {Type: genai.TypeString},
		"description": {Type: genai.TypeString},
	},
	Required: []string{"main_topic", "group_label", "description"},
}

// createGroup builds a brand-new group for articleID, asking the LLM
// for a category/label/description with the near-miss candidates as
// context.
func (c *Coordinator) createGroup(ctx context.Context, articleID int64, candidates []candidate) (int64, error) {
	a, err := store.GetArticle(ctx, c.db.DB(), articleID)
	if err != nil {
		return 0, fmt.Errorf("grouping: loading article %d: %w", articleID, err)
	}

	mainTopic, label, description := c.classifyNewGroup(ctx, a, candidates)

	var groupID int64
	err = c.db.Transaction(ctx, func(tx *sql.Tx) error {
		id, err := store.CreateGroup(ctx, tx, mainTopic, "", label, description)
		if err != nil {
			return err
		}
		if err := store.AttachArticleToGroup(ctx, tx, articleID, id); err != nil {
			return err
		}
		groupID = id
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("grouping: creating new group for article %d: %w", articleID, err)
	}
	return groupID, nil
}

func (c *Coordinator) classifyNewGroup(ctx context.Context, a model.Article, candidates []candidate) (mainTopic, label, description string) {
	if c.client == nil {
		return model.CategoryOther, fmt.Sprintf("Group for %s", a.Title), a.Title
	}

	body := a.Body
	if len(body) > 3000 {
		body = body[:3000]
	}
	prompt := "Analyze this article and determine the most appropriate category, a concise group label, and a brief description (1-2 sentences).\n\n" +
		"Choose one category from this list:\n"
	for _, cat := range model.FixedCategories {
		prompt += "- " + cat + "\n"
	}
	prompt += fmt.Sprintf("\nArticle Title: %s\nArticle Content (excerpt):\n%s\n", a.Title, body)

	if len(candidates) > 0 {
		prompt += "\nContext: this article did not strongly match existing groups. The closest were:\n"
		for i, cand := range candidates {
			if i >= 2 {
				break
			}
			prompt += fmt.Sprintf("- %q (score %.2f): %s\n", cand.group.Label, cand.score, cand.group.Description)
		}
	}

	resp, err := c.client.ChatJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are an expert news analyst. Define a new group for this article. Respond only in JSON."},
		{Role: llm.RoleUser, Content: prompt},
	}, "", newGroupSchema, 0.2)
	if err != nil {
		return model.CategoryOther, fmt.Sprintf("Group for %s", a.Title), a.Title
	}

	var parsed newGroupResponse
	if err := json.Unmarshal([]byte(llm.StripJSONFence(resp)), &parsed); err != nil {
		return model.CategoryOther, fmt.Sprintf("Group for %s", a.Title), a.Title
	}

	mainTopic = model.NormalizeCategory(parsed.MainTopic)
	label = parsed.GroupLabel
	if label == "" {
		label = fmt.Sprintf("Group for %s", a.Title)
	}
	description = parsed.Description
	if description == "" {
		description = a.Title
	}
	return mainTopic, label, description
}
