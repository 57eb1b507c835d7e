package webapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
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

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s := openTestStore(t)
	srv := New(s, config.ServerConfig{Host: "127.0.0.1", Port: 0})
	return srv, s
}

func TestHandleHomeGroupsReturnsRecentGroupsByCategory(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	groupID, err := store.CreateGroup(ctx, db.DB(), "Cybersecurity & Data Privacy", "", "Test Group", "desc")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	articleID, err := store.InsertArticle(ctx, db.DB(), model.Article{
		URL: "https://example.com/a", Title: "t", Body: strings.Repeat("x", 400),
		Published: time.Now(), Source: "example.com",
	})
	if err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}
	if err := store.AttachArticleToGroup(ctx, db.DB(), articleID, groupID); err != nil {
		t.Fatalf("AttachArticleToGroup: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/home_groups")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var byCategory map[string][]model.GroupSummary
	if err := json.NewDecoder(resp.Body).Decode(&byCategory); err != nil {
		t.Fatalf("decode: %v", err)
	}
	groups := byCategory["Cybersecurity & Data Privacy"]
	if len(groups) != 1 || groups[0].Label != "Test Group" {
		t.Fatalf("expected 1 group named Test Group in its category, got %+v", byCategory)
	}
	if groups[0].MemberCount != 1 {
		t.Fatalf("expected member count 1, got %d", groups[0].MemberCount)
	}
	if len(groups[0].Previews) != 1 || len(groups[0].Previews[0]) != 300 {
		t.Fatalf("expected one 300-char preview, got %+v", groups[0].Previews)
	}
}

func TestHandleCategoryGroupsRequiresCategory(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/category_groups")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without category, got %d", resp.StatusCode)
	}
}

func TestHandleTrendingAppliesMinimumFloorLimit(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.CreateTrend(ctx, db.DB(), "Cybersecurity & Data Privacy", "t", "s", 5, 0.8); err != nil {
			t.Fatalf("CreateTrend: %v", err)
		}
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/trending?limit=2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var trends []model.Trend
	if err := json.NewDecoder(resp.Body).Decode(&trends); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(trends) != 3 {
		t.Fatalf("expected limit clamped up to the 3 available (floor %d), got %d", minTrending, len(trends))
	}
}

func TestHandleCVETableFiltersByHours(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	articleID, err := store.InsertArticle(ctx, db.DB(), model.Article{
		URL: "https://example.com/a", Title: "t", Body: "b",
		Published: time.Now().Add(-72 * time.Hour), Source: "example.com",
	})
	if err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}
	if err := store.LinkCVE(ctx, db.DB(), articleID, "CVE-2024-1111", model.FormatTime(time.Now().Add(-72*time.Hour))); err != nil {
		t.Fatalf("LinkCVE: %v", err)
	}
	if err := store.UpsertCVEInfo(ctx, db.DB(), model.CVEInfo{CVEID: "CVE-2024-1111", TimesMentioned: 1}); err != nil {
		t.Fatalf("UpsertCVEInfo: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/cve_table?hours=24")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var rows []model.CVETableRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected 0 rows for a 24h window excluding a 72h-old article, got %d", len(rows))
	}

	resp2, err := http.Get(ts.URL + "/api/cve_table")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp2.Body.Close()
	var allRows []model.CVETableRow
	if err := json.NewDecoder(resp2.Body).Decode(&allRows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(allRows) != 1 {
		t.Fatalf("expected 1 row with no hours filter, got %d", len(allRows))
	}
	row := allRows[0]
	if row.CVEID != "CVE-2024-1111" {
		t.Fatalf("expected row for CVE-2024-1111, got %q", row.CVEID)
	}
	if row.TimesSeen != 1 {
		t.Fatalf("expected times_seen 1, got %d", row.TimesSeen)
	}
	if len(row.ArticleLinks) != 1 || row.ArticleLinks[0].URL != "https://example.com/a" {
		t.Fatalf("expected one article link to the mentioning article, got %+v", row.ArticleLinks)
	}
	if row.Sources != "example.com" {
		t.Fatalf("expected sources %q, got %q", "example.com", row.Sources)
	}
	if row.FirstMention == "" || row.LastMention == "" {
		t.Fatalf("expected non-empty first/last mention, got %+v", row)
	}
}
