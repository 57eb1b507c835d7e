package enrich

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

func TestExtractReferencesNormalizesAndDedupes(t *testing.T) {
	a := model.Article{
		ID:   1,
		Body: "See https://example.com/a/b?x=1 and also https://example.com/a/b for details, plus https://other.com/c.",
	}
	refs := extractReferences(a)
	if len(refs) != 2 {
		t.Fatalf("expected 2 distinct normalized references, got %d: %+v", len(refs), refs)
	}
}

func TestExtractMechanicalLinksCVEsAndReferences(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	articleID, err := store.InsertArticle(ctx, s.DB(), model.Article{
		URL: "https://example.com/a1", Title: "t", Body: "Disclosed as CVE-2024-9999, see https://vendor.example/advisory for details.",
		Published: time.Now(), Source: "example.com",
	})
	if err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}

	e := New(s, nil, nil, config.EnrichConfig{})
	a, err := store.GetArticle(ctx, s.DB(), articleID)
	if err != nil {
		t.Fatalf("GetArticle: %v", err)
	}
	if err := e.extractMechanical(ctx, a); err != nil {
		t.Fatalf("extractMechanical: %v", err)
	}

	cves, err := store.ArticleCVEs(ctx, s.DB(), articleID)
	if err != nil {
		t.Fatalf("ArticleCVEs: %v", err)
	}
	if len(cves) != 1 || cves[0] != "CVE-2024-9999" {
		t.Fatalf("expected CVE-2024-9999, got %v", cves)
	}

	refs, err := store.ArticleExternalReferences(ctx, s.DB(), articleID)
	if err != nil {
		t.Fatalf("ArticleExternalReferences: %v", err)
	}
	if len(refs) != 1 || refs[0].Domain != "vendor.example" {
		t.Fatalf("expected one reference to vendor.example, got %+v", refs)
	}
}

func TestBatchArticlesSplitsEvenly(t *testing.T) {
	articles := make([]model.Article, 7)
	batches := batchArticles(articles, 3)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[0]) != 3 || len(batches[1]) != 3 || len(batches[2]) != 1 {
		t.Fatalf("unexpected batch sizes: %v %v %v", len(batches[0]), len(batches[1]), len(batches[2]))
	}
}

func TestBatchSizeRespectsTokenBudget(t *testing.T) {
	e := New(nil, nil, nil, config.EnrichConfig{TokenBudget: 9000})
	if got := e.batchSize(); got != 10 {
		t.Fatalf("expected batch size clamped to max 10, got %d", got)
	}
	e = New(nil, nil, nil, config.EnrichConfig{})
	if got := e.batchSize(); got != 5 {
		t.Fatalf("expected default batch size 5 when no budget set, got %d", got)
	}
}

func TestQuoteHashStableForSameContent(t *testing.T) {
	a := quoteHash("Security is a process, not a product.", "Bruce Schneier")
	b := quoteHash("Security is a process, not a product.", "Bruce Schneier")
	if a != b {
		t.Fatalf("expected stable hash for identical content")
	}
	c := quoteHash("Different quote.", "Bruce Schneier")
	if a == c {
		t.Fatalf("expected different hash for different text")
	}
}

func TestPersistExtractionWritesAllFacets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	articleID, err := store.InsertArticle(ctx, s.DB(), model.Article{
		URL: "https://example.com/a2", Title: "t", Body: "body", Published: time.Now(), Source: "example.com",
	})
	if err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}

	e := New(s, nil, nil, config.EnrichConfig{})
	result := extractedArticle{
		ArticleID: articleID,
		Entities:  []extractedEntity{{Name: "Acme Corp", Type: "organization", Relevance: 0.9}},
		Companies: []string{"Acme Corp"},
		Events:    []string{"Black Hat 2024"},
		Quotes:    []extractedQuote{{Speaker: "Jane Doe", Text: "We take this seriously."}},
		Author:    "Jane Reporter",
	}
	if err := e.persistExtraction(ctx, result); err != nil {
		t.Fatalf("persistExtraction: %v", err)
	}

	entities, err := store.ArticleEntities(ctx, s.DB(), articleID)
	if err != nil || len(entities) != 1 {
		t.Fatalf("expected 1 entity, got %v err=%v", entities, err)
	}
	companies, err := store.ArticleCompanies(ctx, s.DB(), articleID)
	if err != nil || len(companies) != 1 {
		t.Fatalf("expected 1 company, got %v err=%v", companies, err)
	}
	events, err := store.ArticleNamedEvents(ctx, s.DB(), articleID)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected 1 event, got %v err=%v", events, err)
	}
	quotes, err := store.ArticleQuotes(ctx, s.DB(), articleID)
	if err != nil || len(quotes) != 1 {
		t.Fatalf("expected 1 quote, got %v err=%v", quotes, err)
	}
	author, err := store.ArticleAuthor(ctx, s.DB(), articleID)
	if err != nil || author != "Jane Reporter" {
		t.Fatalf("expected author Jane Reporter, got %q err=%v", author, err)
	}
}
