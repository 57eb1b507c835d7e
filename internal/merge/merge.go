// Package merge implements the Merger: finding highly similar group
// pairs and collapsing them into one.
package merge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/config"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/llm"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/signature"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/similarity"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/store"
)

// signatureWeight and labelWeight blend signature overlap against an
// LLM's judgment of whether the two groups' labels/descriptions
// describe the same core topic.
const (
	signatureWeight = 0.7
	labelWeight     = 0.3
)

// Stats summarizes one merge pass.
type Stats struct {
	MergedPairs int
	Errors      int
}

// Merger finds and collapses near-duplicate groups.
type Merger struct {
	db     *store.Store
	client *llm.Client
	cfg    config.MergeConfig
}

// New builds a Merger. client may be nil, in which case merge
// decisions rely on signature similarity alone (labelWeight
// contributes zero).
func New(db *store.Store, client *llm.Client, cfg config.MergeConfig) *Merger {
	return &Merger{db: db, client: client, cfg: cfg}
}

type groupWithSig struct {
	group model.Group
	sig   signature.Group
}

// Run compares every pair of groups, merging any pair whose blended
// similarity clears cfg.Threshold. A processed-ids set keeps a group
// from being merged twice within the same run.
func (m *Merger) Run(ctx context.Context) (Stats, error) {
	groupIDs, err := store.AllGroupIDs(ctx, m.db.DB())
	if err != nil {
		return Stats{}, fmt.Errorf("merge: listing groups: %w", err)
	}
	if len(groupIDs) < 2 {
		return Stats{}, nil
	}

	var groups []groupWithSig
	for _, gid := range groupIDs {
		g, err := store.GetGroup(ctx, m.db.DB(), gid)
		if err != nil {
			continue
		}
		memberIDs, err := store.GroupMemberIDs(ctx, m.db.DB(), gid)
		if err != nil || len(memberIDs) == 0 {
			continue
		}
		sig, err := signature.BuildGroup(ctx, m.db.DB(), g, memberIDs)
		if err != nil {
			continue
		}
		groups = append(groups, groupWithSig{group: g, sig: sig})
	}

	var stats Stats
	processed := make(map[int64]bool)

	for i := 0; i < len(groups); i++ {
		if processed[groups[i].group.ID] {
			continue
		}
		for j := i + 1; j < len(groups); j++ {
			a, b := groups[i], groups[j]
			if processed[a.group.ID] || processed[b.group.ID] {
				continue
			}

			score := m.groupSimilarity(ctx, a, b)
			if score < m.cfg.Threshold {
				continue
			}

			if err := m.mergePair(ctx, a, b); err != nil {
				stats.Errors++
				continue
			}
			stats.MergedPairs++
			processed[a.group.ID] = true
			processed[b.group.ID] = true
			break // a just merged into a new survivor; move on to the next i
		}
	}

	return stats, nil
}

// groupSimilarity blends the symmetric signature overlap with an
// optional LLM judgment of whether the two groups' labels/descriptions
// describe the same core topic.
func (m *Merger) groupSimilarity(ctx context.Context, a, b groupWithSig) float64 {
	sigScore := similarity.GroupToGroup(a.sig, b.sig).Final

	labelScore := 0.0
	if m.client != nil && a.group.Description != "" && b.group.Description != "" {
		labelScore = m.labelSimilarity(ctx, a.group, b.group)
	}

	return sigScore*signatureWeight + labelScore*labelWeight
}

type labelSimilarityResponse struct {
	Score float64 `json:"score"`
}

var labelSimilaritySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"score": {Type: genai.TypeNumber, Description: "Semantic similarity of the two group concepts, 0.0 to 1.0."},
	},
	Required: []string{"score"},
}

func (m *Merger) labelSimilarity(ctx context.Context, a, b model.Group) float64 {
	descA, descB := a.Description, b.Description
	if len(descA) > 500 {
		descA = descA[:500]
	}
	if len(descB) > 500 {
		descB = descB[:500]
	}
	prompt := fmt.Sprintf(
		"Rate the semantic similarity of these two group concepts on a scale of 0.0 to 1.0. Focus only on whether they describe the exact same core event or topic.\n\nGroup A:\nLabel: %s\nDescription: %s\n\nGroup B:\nLabel: %s\nDescription: %s\n",
		a.Label, descA, b.Label, descB)

	resp, err := m.client.ChatJSON(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, "", labelSimilaritySchema, 0.0)
	if err != nil {
		return 0
	}
	var parsed labelSimilarityResponse
	if err := json.Unmarshal([]byte(llm.StripJSONFence(resp)), &parsed); err != nil {
		return 0
	}
	return parsed.Score
}

// chooseSurvivor picks a deterministic winner: the group with more
// member articles wins; ties go to the older group (earlier
// CreatedAt); remaining ties go to the lower group id.
func chooseSurvivor(a, b groupWithSig, aSize, bSize int) (survivor, loser groupWithSig) {
	switch {
	case aSize != bSize:
		if aSize > bSize {
			return a, b
		}
		return b, a
	case !a.group.CreatedAt.Equal(b.group.CreatedAt):
		if a.group.CreatedAt.Before(b.group.CreatedAt) {
			return a, b
		}
		return b, a
	case a.group.ID < b.group.ID:
		return a, b
	default:
		return b, a
	}
}

type mergedLabelResponse struct {
	MergedLabel       string `json:"merged_label"`
	MergedDescription string `json:"merged_description"`
}

var mergedLabelSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"merged_label":       {Type: genai.TypeString},
		"merged_description": {Type: genai.TypeString},
	},
	Required: []string{"merged_label", "merged_description"},
}

func (m *Merger) mergePair(ctx context.Context, a, b groupWithSig) error {
	aSize, err := store.GroupSize(ctx, m.db.DB(), a.group.ID)
	if err != nil {
		return err
	}
	bSize, err := store.GroupSize(ctx, m.db.DB(), b.group.ID)
	if err != nil {
		return err
	}
	survivor, loser := chooseSurvivor(a, b, aSize, bSize)

	label, description := m.mergedLabel(ctx, survivor.group, loser.group)

	memberIDs, err := store.GroupMemberIDs(ctx, m.db.DB(), loser.group.ID)
	if err != nil {
		return fmt.Errorf("merge: listing members of group %d: %w", loser.group.ID, err)
	}

	return m.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := store.UpdateGroupLabel(ctx, tx, survivor.group.ID, label, description); err != nil {
			return err
		}
		for _, articleID := range memberIDs {
			if err := store.MoveArticleToGroup(ctx, tx, articleID, loser.group.ID, survivor.group.ID); err != nil {
				return err
			}
		}
		return store.DeleteGroup(ctx, tx, loser.group.ID)
	})
}

// mergedLabel asks the LLM for a unified label/description for the
// surviving group, falling back to a concatenation of both groups'
// labels/descriptions when no client is configured or the call fails.
func (m *Merger) mergedLabel(ctx context.Context, survivor, loser model.Group) (label, description string) {
	fallbackLabel := fmt.Sprintf("%s / %s", survivor.Label, loser.Label)
	fallbackDescription := fmt.Sprintf("%s\n---\n%s", survivor.Description, loser.Description)

	if m.client == nil {
		return fallbackLabel, fallbackDescription
	}

	prompt := fmt.Sprintf(
		"These two article groups seem to cover the same topic. Suggest a concise, unified label and a brief description (1-2 sentences) for the merged group.\n\nGroup A (ID %d):\nLabel: %s\nDescription: %s\n\nGroup B (ID %d):\nLabel: %s\nDescription: %s\n",
		survivor.ID, survivor.Label, survivor.Description, loser.ID, loser.Label, loser.Description)

	resp, err := m.client.ChatJSON(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, "", mergedLabelSchema, 0.2)
	if err != nil {
		return fallbackLabel, fallbackDescription
	}

	var parsed mergedLabelResponse
	if err := json.Unmarshal([]byte(llm.StripJSONFence(resp)), &parsed); err != nil {
		return fallbackLabel, fallbackDescription
	}
	if parsed.MergedLabel == "" {
		parsed.MergedLabel = fallbackLabel
	}
	if parsed.MergedDescription == "" {
		parsed.MergedDescription = fallbackDescription
	}
	return parsed.MergedLabel, parsed.MergedDescription
}
