package similarity

import (
	"testing"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/signature"
)

func TestArticleToGroupWeightsEntityDimensionHighest(t *testing.T) {
	article := signature.Article{
		PrimaryEntities: []model.EntityRef{{EntityID: 1, Relevance: 1.0, Type: model.EntityTypeOrganization}},
	}
	group := signature.Group{
		PrimaryEntities: []signature.EntityAggregate{{EntityID: 1, Frequency: 1.0, AvgRelevance: 0.9, Type: model.EntityTypeOrganization}},
	}
	scores := ArticleToGroup(article, group)
	if scores.EntitySimilarity != 1.0 {
		t.Fatalf("expected perfect entity match, got %v", scores.EntitySimilarity)
	}
	if scores.CoreEntityBonus != CoreEntityBonus {
		t.Fatalf("expected core entity bonus for matching organization, got %v", scores.CoreEntityBonus)
	}
}

func TestArticleToGroupNoOverlapScoresZeroComposite(t *testing.T) {
	article := signature.Article{PrimaryEntities: []model.EntityRef{{EntityID: 99, Relevance: 0.8}}}
	group := signature.Group{PrimaryEntities: []signature.EntityAggregate{{EntityID: 1, Frequency: 1.0, AvgRelevance: 0.8}}}
	scores := ArticleToGroup(article, group)
	if scores.Composite != 0 {
		t.Fatalf("expected zero composite for disjoint entity sets, got %v", scores.Composite)
	}
}

func TestTemporalAdjustmentRecentBoostsScore(t *testing.T) {
	adj := temporalAdjustment("2026-07-29 12:00:00", "2026-07-29 06:00:00")
	if adj <= 0 {
		t.Fatalf("expected positive adjustment for recent article, got %v", adj)
	}
}

func TestTemporalAdjustmentStalePenalizesScore(t *testing.T) {
	adj := temporalAdjustment("2026-07-01 00:00:00", "2026-07-29 00:00:00")
	if adj >= 0 {
		t.Fatalf("expected negative adjustment for stale article, got %v", adj)
	}
}

func TestJaccardIdenticalSetsIsOne(t *testing.T) {
	if got := jaccard([]string{"a", "b"}, []string{"b", "a"}); got != 1.0 {
		t.Fatalf("expected 1.0, got %v", got)
	}
}

func TestJaccardDisjointSetsIsZero(t *testing.T) {
	if got := jaccard([]string{"a"}, []string{"b"}); got != 0.0 {
		t.Fatalf("expected 0.0, got %v", got)
	}
}

func TestFinalScoreClampedToUnitInterval(t *testing.T) {
	article := signature.Article{
		Source:          "example.com",
		PrimaryEntities: []model.EntityRef{{EntityID: 1, Relevance: 1.0, Type: model.EntityTypeProduct}},
		Companies:       []string{"Acme"},
		CVEs:            []string{"CVE-2024-1"},
		Published:       "2026-07-29 12:00:00",
	}
	group := signature.Group{
		MemberSources:       []string{"example.com"},
		LatestPublishedDate: "2026-07-29 11:00:00",
		PrimaryEntities:     []signature.EntityAggregate{{EntityID: 1, Frequency: 1.0, AvgRelevance: 1.0, Type: model.EntityTypeProduct}},
		Companies:           []signature.NamedAggregate{{Name: "Acme", Frequency: 1.0}},
		CVEs:                []signature.NamedAggregate{{Name: "CVE-2024-1", Frequency: 1.0}},
	}
	scores := ArticleToGroup(article, group)
	if scores.Final > 1.0 || scores.Final < 0.0 {
		t.Fatalf("expected final score in [0,1], got %v", scores.Final)
	}
}

func TestGroupToGroupIdenticalEntitySetsScoresHigh(t *testing.T) {
	g1 := signature.Group{PrimaryEntities: []signature.EntityAggregate{{EntityID: 1, Frequency: 1.0, AvgRelevance: 0.9}}}
	g2 := signature.Group{PrimaryEntities: []signature.EntityAggregate{{EntityID: 1, Frequency: 1.0, AvgRelevance: 0.9}}}
	scores := GroupToGroup(g1, g2)
	if scores.EntitySimilarity != 1.0 {
		t.Fatalf("expected identical entity sets to score 1.0, got %v", scores.EntitySimilarity)
	}
}
