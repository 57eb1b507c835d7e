package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenAppliesSchemaIdempotently(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = s.Close()

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopening existing db failed: %v", err)
	}
	defer s2.Close()
}

func TestInsertArticleDedupesByURL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := model.Article{URL: "https://example.com/a", Title: "A", Body: "body", Published: time.Now(), Source: "example.com"}
	id1, err := InsertArticle(ctx, s.DB(), a)
	if err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}
	if id1 == 0 {
		t.Fatal("expected nonzero article id")
	}

	id2, err := InsertArticle(ctx, s.DB(), a)
	if err != nil {
		t.Fatalf("InsertArticle (dup): %v", err)
	}
	if id2 != id1 {
		t.Fatalf("expected dedup to return same id, got %d vs %d", id2, id1)
	}
}

func TestUngroupedArticlesExcludesGroupedOnes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a1, _ := InsertArticle(ctx, s.DB(), model.Article{URL: "https://x/1", Title: "1", Published: time.Now()})
	a2, _ := InsertArticle(ctx, s.DB(), model.Article{URL: "https://x/2", Title: "2", Published: time.Now()})

	groupID, err := CreateGroup(ctx, s.DB(), "Other", "General", "Test Group", "")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := AttachArticleToGroup(ctx, s.DB(), a1, groupID); err != nil {
		t.Fatalf("AttachArticleToGroup: %v", err)
	}

	ungrouped, err := UngroupedArticles(ctx, s.DB(), 10)
	if err != nil {
		t.Fatalf("UngroupedArticles: %v", err)
	}
	if len(ungrouped) != 1 || ungrouped[0].ID != a2 {
		t.Fatalf("expected only article %d ungrouped, got %+v", a2, ungrouped)
	}
}

func TestUpsertEntityIncrementsMentionCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := UpsertEntity(ctx, s.DB(), "Acme Corp", model.EntityTypeOrganization, "a company")
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	id2, err := UpsertEntity(ctx, s.DB(), "Acme Corp", model.EntityTypeOrganization, "")
	if err != nil {
		t.Fatalf("UpsertEntity (second): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same entity id across upserts, got %d vs %d", id1, id2)
	}
}

func TestMoveArticleToGroupReassigns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a1, _ := InsertArticle(ctx, s.DB(), model.Article{URL: "https://y/1", Title: "1", Published: time.Now()})
	g1, _ := CreateGroup(ctx, s.DB(), "Other", "General", "Group1", "")
	g2, _ := CreateGroup(ctx, s.DB(), "Other", "General", "Group2", "")

	if err := AttachArticleToGroup(ctx, s.DB(), a1, g1); err != nil {
		t.Fatalf("AttachArticleToGroup: %v", err)
	}
	if err := MoveArticleToGroup(ctx, s.DB(), a1, g1, g2); err != nil {
		t.Fatalf("MoveArticleToGroup: %v", err)
	}

	members, err := GroupMemberIDs(ctx, s.DB(), g2)
	if err != nil {
		t.Fatalf("GroupMemberIDs: %v", err)
	}
	if len(members) != 1 || members[0] != a1 {
		t.Fatalf("expected article %d in group %d, got %+v", a1, g2, members)
	}

	oldMembers, err := GroupMemberIDs(ctx, s.DB(), g1)
	if err != nil {
		t.Fatalf("GroupMemberIDs (old): %v", err)
	}
	if len(oldMembers) != 0 {
		t.Fatalf("expected group %d empty after move, got %+v", g1, oldMembers)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wantErr := context.Canceled
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected transaction to surface fn error, got %v", err)
	}
}
