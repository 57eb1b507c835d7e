package merge

import (
	"context"
	"testing"
	"time"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/config"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChooseSurvivorPrefersLargerGroup(t *testing.T) {
	a := groupWithSig{group: model.Group{ID: 1}}
	b := groupWithSig{group: model.Group{ID: 2}}
	survivor, loser := chooseSurvivor(a, b, 3, 7)
	if survivor.group.ID != 2 || loser.group.ID != 1 {
		t.Fatalf("expected group 2 (larger) to survive, got survivor=%d loser=%d", survivor.group.ID, loser.group.ID)
	}
}

func TestChooseSurvivorTiesBreakByOlderCreatedAt(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	a := groupWithSig{group: model.Group{ID: 9, CreatedAt: newer}}
	b := groupWithSig{group: model.Group{ID: 1, CreatedAt: older}}
	survivor, loser := chooseSurvivor(a, b, 4, 4)
	if survivor.group.ID != 1 || loser.group.ID != 9 {
		t.Fatalf("expected older group (id 1) to survive on size tie despite higher id, got survivor=%d loser=%d", survivor.group.ID, loser.group.ID)
	}
}

func TestChooseSurvivorTiesBreakByLowerID(t *testing.T) {
	a := groupWithSig{group: model.Group{ID: 5}}
	b := groupWithSig{group: model.Group{ID: 9}}
	survivor, loser := chooseSurvivor(a, b, 4, 4)
	if survivor.group.ID != 5 || loser.group.ID != 9 {
		t.Fatalf("expected group 5 (lower id) to survive on tie, got survivor=%d loser=%d", survivor.group.ID, loser.group.ID)
	}
}

func TestRunMergesHighlySimilarGroups(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entityID, err := store.UpsertEntity(ctx, s.DB(), "Acme Corp", model.EntityTypeOrganization, "")
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}

	mkGroupWithArticle := func(url, label string) int64 {
		articleID, err := store.InsertArticle(ctx, s.DB(), model.Article{URL: url, Title: "t", Published: time.Now(), Source: "example.com"})
		if err != nil {
			t.Fatalf("InsertArticle: %v", err)
		}
		if err := store.LinkEntityToArticle(ctx, s.DB(), articleID, entityID, 0.9, ""); err != nil {
			t.Fatalf("LinkEntityToArticle: %v", err)
		}
		groupID, err := store.CreateGroup(ctx, s.DB(), "Other", "", label, "desc "+label)
		if err != nil {
			t.Fatalf("CreateGroup: %v", err)
		}
		if err := store.AttachArticleToGroup(ctx, s.DB(), articleID, groupID); err != nil {
			t.Fatalf("AttachArticleToGroup: %v", err)
		}
		return groupID
	}

	g1 := mkGroupWithArticle("https://example.com/m1", "Group One")
	g2 := mkGroupWithArticle("https://example.com/m2", "Group Two")

	m := New(s, nil, config.MergeConfig{Threshold: 0.30})
	stats, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.MergedPairs != 1 {
		t.Fatalf("expected 1 merged pair (identical entity sets), got %d", stats.MergedPairs)
	}

	remaining, err := store.AllGroupIDs(ctx, s.DB())
	if err != nil {
		t.Fatalf("AllGroupIDs: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 group left after merge, got %d: %v", len(remaining), remaining)
	}
	_ = g1
	_ = g2
}

func TestRunSkipsWhenFewerThanTwoGroups(t *testing.T) {
	s := openTestStore(t)
	m := New(s, nil, config.MergeConfig{Threshold: 0.5})
	stats, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.MergedPairs != 0 {
		t.Fatalf("expected no merges with < 2 groups, got %d", stats.MergedPairs)
	}
}
