package grouping

import (
	"context"
	"testing"
	"time"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/config"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/signature"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/store"
)

func testGroupingConfig() config.GroupingConfig {
	return config.GroupingConfig{
		BaseThreshold: 0.40,
		CategoryAdjust: map[string]float64{
			"Cybersecurity & Data Privacy": 0.05,
			"Other":                        -0.03,
		},
		SizeBreakpoints:      []int{1, 5, 10},
		SizeAdjustments:      []float64{0.05, 0.0, -0.03, -0.05},
		ThresholdMin:         0.10,
		ThresholdMax:         0.90,
		AmbiguityZoneBelow:   0.10,
		AmbiguityZoneAbove:   0.05,
		MaxScoreGapAmbiguous: 0.08,
		EnableLLMArbitration: true,
		BatchDelaySeconds:    0,
	}
}

func TestDynamicThresholdAppliesCategoryAndSizeAdjustments(t *testing.T) {
	c := &Coordinator{cfg: testGroupingConfig()}
	got := c.dynamicThreshold("Cybersecurity & Data Privacy", 2)
	want := 0.40 + 0.05 + 0.0
	if got != want {
		t.Fatalf("expected threshold %v, got %v", want, got)
	}
}

func TestDynamicThresholdClampsToRange(t *testing.T) {
	cfg := testGroupingConfig()
	cfg.CategoryAdjust = map[string]float64{"Other": -10}
	c := &Coordinator{cfg: cfg}
	got := c.dynamicThreshold("Other", 0)
	if got != cfg.ThresholdMin {
		t.Fatalf("expected clamp to min %v, got %v", cfg.ThresholdMin, got)
	}
}

func TestDecideCreatesNewWhenNoCandidates(t *testing.T) {
	c := &Coordinator{cfg: testGroupingConfig()}
	outcome, _, _, _ := c.decide(context.Background(), 1, articleSigStub(), nil, nil, nil)
	if outcome != OutcomeCreatedNew {
		t.Fatalf("expected created_new with no candidates, got %v", outcome)
	}
}

func TestDecideAddsToExistingWhenClearlyAboveThreshold(t *testing.T) {
	c := &Coordinator{cfg: testGroupingConfig()}
	cand := candidate{group: model.Group{ID: 7}, score: 0.80, threshold: 0.40}
	second := candidate{group: model.Group{ID: 8}, score: 0.10, threshold: 0.40}
	outcome, groupID, llmChecked, _ := c.decide(context.Background(), 1, articleSigStub(), []candidate{cand, second}, &cand, &second)
	if outcome != OutcomeAddedToExisting || groupID != 7 || llmChecked {
		t.Fatalf("expected clean add to group 7, got outcome=%v group=%v llmChecked=%v", outcome, groupID, llmChecked)
	}
}

func TestDecideCreatesNewWhenClearlyBelowThreshold(t *testing.T) {
	c := &Coordinator{cfg: testGroupingConfig()}
	cand := candidate{group: model.Group{ID: 7}, score: 0.05, threshold: 0.40}
	outcome, _, _, _ := c.decide(context.Background(), 1, articleSigStub(), []candidate{cand}, &cand, nil)
	if outcome != OutcomeCreatedNew {
		t.Fatalf("expected created_new for below-threshold score, got %v", outcome)
	}
}

func TestDecideFallsBackToThresholdWhenAmbiguousAndNoLLMClient(t *testing.T) {
	c := &Coordinator{cfg: testGroupingConfig()} // client is nil
	cand := candidate{group: model.Group{ID: 7}, score: 0.42, threshold: 0.40}
	outcome, groupID, llmChecked, _ := c.decide(context.Background(), 1, articleSigStub(), []candidate{cand}, &cand, nil)
	if llmChecked {
		t.Fatal("expected no LLM check when client is nil")
	}
	if outcome != OutcomeAddedToExisting || groupID != 7 {
		t.Fatalf("expected fallback add to group 7, got outcome=%v group=%v", outcome, groupID)
	}
}

func TestProcessArticleCreatesNewGroupWithNoExistingGroups(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	articleID, err := store.InsertArticle(ctx, s.DB(), model.Article{
		URL: "https://example.com/solo", Title: "Solo Article", Body: "content", Published: time.Now(), Source: "example.com",
	})
	if err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}

	coord := New(s, nil, testGroupingConfig())
	result, err := coord.ProcessArticle(ctx, articleID)
	if err != nil {
		t.Fatalf("ProcessArticle: %v", err)
	}
	if result.Outcome != OutcomeCreatedNew {
		t.Fatalf("expected created_new for first article, got %v", result.Outcome)
	}

	members, err := store.GroupMemberIDs(ctx, s.DB(), result.GroupID)
	if err != nil {
		t.Fatalf("GroupMemberIDs: %v", err)
	}
	if len(members) != 1 || members[0] != articleID {
		t.Fatalf("expected article %d in new group, got %+v", articleID, members)
	}
}

func TestCandidateGroupIDsNarrowsToHashSiblingsGroup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	coord := New(s, nil, testGroupingConfig())

	// A sibling article sharing the incoming article's exact
	// entity-hash, already attached to group A.
	siblingID, err := store.InsertArticle(ctx, s.DB(), model.Article{
		URL: "https://example.com/sibling", Title: "t", Published: time.Now(), Source: "example.com",
	})
	if err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}
	groupA, err := store.CreateGroup(ctx, s.DB(), "Other", "", "A", "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := store.AttachArticleToGroup(ctx, s.DB(), siblingID, groupA); err != nil {
		t.Fatalf("AttachArticleToGroup: %v", err)
	}
	const sharedHash = "deadbeef"
	if err := store.SetArticleSignatureHash(ctx, s.DB(), siblingID, sharedHash); err != nil {
		t.Fatalf("SetArticleSignatureHash: %v", err)
	}

	// An unrelated group B with no hash match, which a full scan would
	// also have scored.
	if _, err := store.CreateGroup(ctx, s.DB(), "Other", "", "B", ""); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	incomingID, err := store.InsertArticle(ctx, s.DB(), model.Article{
		URL: "https://example.com/incoming", Title: "t", Published: time.Now(), Source: "example.com",
	})
	if err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}

	groupIDs, err := coord.candidateGroupIDs(ctx, incomingID, sharedHash)
	if err != nil {
		t.Fatalf("candidateGroupIDs: %v", err)
	}
	if len(groupIDs) != 1 || groupIDs[0] != groupA {
		t.Fatalf("expected quick-match to narrow to group A (%d) only, got %+v", groupA, groupIDs)
	}
}

func TestCandidateGroupIDsFallsBackToEveryGroupWithoutHashMatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	coord := New(s, nil, testGroupingConfig())

	groupA, err := store.CreateGroup(ctx, s.DB(), "Other", "", "A", "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	groupB, err := store.CreateGroup(ctx, s.DB(), "Other", "", "B", "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	incomingID, err := store.InsertArticle(ctx, s.DB(), model.Article{
		URL: "https://example.com/incoming2", Title: "t", Published: time.Now(), Source: "example.com",
	})
	if err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}

	groupIDs, err := coord.candidateGroupIDs(ctx, incomingID, "no-such-hash")
	if err != nil {
		t.Fatalf("candidateGroupIDs: %v", err)
	}
	if len(groupIDs) != 2 {
		t.Fatalf("expected every group scored with no hash match, got %+v", groupIDs)
	}
	seen := map[int64]bool{groupIDs[0]: true, groupIDs[1]: true}
	if !seen[groupA] || !seen[groupB] {
		t.Fatalf("expected both groups %d and %d present, got %+v", groupA, groupB, groupIDs)
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func articleSigStub() signature.Article { return signature.Article{} }
