package signature

import (
	"context"
	"testing"
	"time"

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

func seedArticleWithEntity(t *testing.T, s *store.Store, url string, relevance float64) int64 {
	t.Helper()
	ctx := context.Background()
	articleID, err := store.InsertArticle(ctx, s.DB(), model.Article{
		URL: url, Title: "t", Published: time.Now(), Source: "example.com",
	})
	if err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}
	entityID, err := store.UpsertEntity(ctx, s.DB(), "Acme Corp", model.EntityTypeOrganization, "")
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	if err := store.LinkEntityToArticle(ctx, s.DB(), articleID, entityID, relevance, ""); err != nil {
		t.Fatalf("LinkEntityToArticle: %v", err)
	}
	return articleID
}

func TestBuildIncludesOnlyHighRelevanceEntitiesAsPrimary(t *testing.T) {
	s := openTestStore(t)
	articleID := seedArticleWithEntity(t, s, "https://example.com/a", 0.9)

	sig, err := Build(context.Background(), s.DB(), articleID)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(sig.PrimaryEntities) != 1 {
		t.Fatalf("expected 1 primary entity, got %d", len(sig.PrimaryEntities))
	}
}

func TestBuildExcludesLowRelevanceEntities(t *testing.T) {
	s := openTestStore(t)
	articleID := seedArticleWithEntity(t, s, "https://example.com/b", 0.3)

	sig, err := Build(context.Background(), s.DB(), articleID)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(sig.PrimaryEntities) != 0 {
		t.Fatalf("expected no primary entities below threshold, got %d", len(sig.PrimaryEntities))
	}
}

func TestBuildGroupAggregatesFrequencyAndAvgRelevance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a1 := seedArticleWithEntity(t, s, "https://example.com/c1", 0.8)
	a2 := seedArticleWithEntity(t, s, "https://example.com/c2", 1.0)

	groupID, err := store.CreateGroup(ctx, s.DB(), "Other", "General", "g", "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	g, err := store.GetGroup(ctx, s.DB(), groupID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}

	groupSig, err := BuildGroup(ctx, s.DB(), g, []int64{a1, a2})
	if err != nil {
		t.Fatalf("BuildGroup: %v", err)
	}
	if len(groupSig.PrimaryEntities) != 1 {
		t.Fatalf("expected 1 distinct aggregated entity, got %d", len(groupSig.PrimaryEntities))
	}
	agg := groupSig.PrimaryEntities[0]
	if agg.Frequency != 1.0 {
		t.Fatalf("expected frequency 1.0 (present in both articles), got %v", agg.Frequency)
	}
	wantAvg := (0.8 + 1.0) / 2
	if agg.AvgRelevance != wantAvg {
		t.Fatalf("expected avg relevance %v, got %v", wantAvg, agg.AvgRelevance)
	}
}

func TestBuildGroupOrdersTechnologiesAndProductsDeterministically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	articleID, err := store.InsertArticle(ctx, s.DB(), model.Article{
		URL: "https://example.com/tech", Title: "t", Published: time.Now(), Source: "example.com",
	})
	if err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}

	// Insert out of alphabetical order so a missing sort would surface.
	zebraID, err := store.UpsertEntity(ctx, s.DB(), "Zebra OS", model.EntityTypeTechnology, "")
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	acmeID, err := store.UpsertEntity(ctx, s.DB(), "Acme Widget", model.EntityTypeProduct, "")
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	betaID, err := store.UpsertEntity(ctx, s.DB(), "Beta Widget", model.EntityTypeProduct, "")
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	for _, e := range []int64{zebraID, acmeID, betaID} {
		if err := store.LinkEntityToArticle(ctx, s.DB(), articleID, e, 0.5, ""); err != nil {
			t.Fatalf("LinkEntityToArticle: %v", err)
		}
	}

	groupID, err := store.CreateGroup(ctx, s.DB(), "Other", "General", "g", "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	g, err := store.GetGroup(ctx, s.DB(), groupID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}

	groupSig, err := BuildGroup(ctx, s.DB(), g, []int64{articleID})
	if err != nil {
		t.Fatalf("BuildGroup: %v", err)
	}

	if len(groupSig.Technologies) != 1 || groupSig.Technologies[0].Name != "Zebra OS" {
		t.Fatalf("expected 1 technology named Zebra OS, got %+v", groupSig.Technologies)
	}
	if len(groupSig.Products) != 2 {
		t.Fatalf("expected 2 products, got %+v", groupSig.Products)
	}
	if groupSig.Products[0].Name != "Acme Widget" || groupSig.Products[1].Name != "Beta Widget" {
		t.Fatalf("expected products sorted alphabetically by name, got %+v", groupSig.Products)
	}

	// Build again to confirm the ordering is stable across invocations
	// over identical inputs, not an artifact of map iteration order.
	groupSig2, err := BuildGroup(ctx, s.DB(), g, []int64{articleID})
	if err != nil {
		t.Fatalf("BuildGroup (2nd run): %v", err)
	}
	if groupSig2.Products[0].Name != groupSig.Products[0].Name || groupSig2.Products[1].Name != groupSig.Products[1].Name {
		t.Fatalf("expected identical product ordering across runs, got %+v vs %+v", groupSig.Products, groupSig2.Products)
	}
}

func TestEntityHashStableAcrossOrder(t *testing.T) {
	a := Article{PrimaryEntities: []model.EntityRef{{EntityID: 2}, {EntityID: 1}}}
	b := Article{PrimaryEntities: []model.EntityRef{{EntityID: 1}, {EntityID: 2}}}
	if EntityHash(a) != EntityHash(b) {
		t.Fatal("expected hash to be order-independent")
	}
}

func TestEntityHashDiffersOnDifferentEntitySets(t *testing.T) {
	a := Article{PrimaryEntities: []model.EntityRef{{EntityID: 1}}}
	b := Article{PrimaryEntities: []model.EntityRef{{EntityID: 2}}}
	if EntityHash(a) == EntityHash(b) {
		t.Fatal("expected different entity sets to hash differently")
	}
}
