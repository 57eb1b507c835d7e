// Package similarity scores how well an article's signature matches a
// group's signature, and how well two groups match each other.
package similarity

import (
	"math"
	"time"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/signature"
)

// Composite weights for the entity/company/cve/event dimensions.
const (
	weightEntity  = 0.40
	weightCompany = 0.25
	weightCVE     = 0.15
	weightEvent   = 0.10
)

// CoreEntityBonus rewards an article whose top entity (by relevance)
// matches the group's top entity (by frequency*avg_relevance), when
// that entity is a strong topical anchor (product, organization, or
// technology).
const CoreEntityBonus = 0.20

// SourceBonus rewards an article published by a source the group
// already contains.
const SourceBonus = 0.03

var coreEntityTypes = map[model.EntityType]bool{
	model.EntityTypeProduct:      true,
	model.EntityTypeOrganization: true,
	model.EntityTypeTechnology:   true,
}

// Scores is the per-dimension and final breakdown of an
// article-to-group similarity computation.
type Scores struct {
	EntitySimilarity  float64
	CompanySimilarity float64
	CVESimilarity     float64
	EventSimilarity   float64
	Composite         float64
	TemporalAdjust    float64
	SourceBonus       float64
	CoreEntityBonus   float64
	Final             float64
}

// ArticleToGroup computes the similarity between an article signature
// and a group signature: a weighted composite of entity/company/cve/
// event overlap, adjusted for recency, shared source, and a shared
// top-ranked core entity.
func ArticleToGroup(a signature.Article, g signature.Group) Scores {
	var s Scores

	s.EntitySimilarity = entitySimilarity(a, g)
	s.CompanySimilarity = jaccard(a.Companies, namesOf(g.Companies))
	s.CVESimilarity = jaccard(a.CVEs, namesOf(g.CVEs))
	s.EventSimilarity = eventSimilarity(a.Events, g.Events)

	s.Composite = weightEntity*s.EntitySimilarity +
		weightCompany*s.CompanySimilarity +
		weightCVE*s.CVESimilarity +
		weightEvent*s.EventSimilarity

	s.TemporalAdjust = temporalAdjustment(a.Published, g.LatestPublishedDate)
	if containsString(g.MemberSources, a.Source) {
		s.SourceBonus = SourceBonus
	}
	if topEntityMatches(a, g) {
		s.CoreEntityBonus = CoreEntityBonus
	}

	final := s.Composite + s.TemporalAdjust + s.SourceBonus + s.CoreEntityBonus
	s.Final = clamp01(final)
	return s
}

// entitySimilarity implements:
//
//	sum(article_relevance * group_avg_relevance * group_frequency)
//	/ sum(group_frequency * group_avg_relevance)
//
// over the group's primary entities, zero if the group has none.
func entitySimilarity(a signature.Article, g signature.Group) float64 {
	if len(g.PrimaryEntities) == 0 {
		return 0
	}
	articleRelevance := make(map[int64]float64, len(a.PrimaryEntities))
	for _, e := range a.PrimaryEntities {
		articleRelevance[e.EntityID] = e.Relevance
	}

	var numerator, denominator float64
	for _, ge := range g.PrimaryEntities {
		weight := ge.Frequency * ge.AvgRelevance
		denominator += weight
		if rel, ok := articleRelevance[ge.EntityID]; ok {
			numerator += rel * weight
		}
	}
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// eventSimilarity weights each shared event by the group's observed
// frequency for it.
func eventSimilarity(articleEvents []string, groupEvents []signature.NamedAggregate) float64 {
	if len(groupEvents) == 0 || len(articleEvents) == 0 {
		return 0
	}
	articleSet := make(map[string]bool, len(articleEvents))
	for _, e := range articleEvents {
		articleSet[e] = true
	}
	var matched, total float64
	for _, ge := range groupEvents {
		total += ge.Frequency
		if articleSet[ge.Name] {
			matched += ge.Frequency
		}
	}
	if total == 0 {
		return 0
	}
	return matched / total
}

// temporalAdjustment rewards recency and penalizes staleness, matching
// the +0.05/48h and -0.03/168h breakpoints exactly.
func temporalAdjustment(published string, groupLatest string) float64 {
	if published == "" || groupLatest == "" {
		return 0
	}
	pt, err1 := model.ParseTime(published)
	gt, err2 := model.ParseTime(groupLatest)
	if err1 != nil || err2 != nil {
		return 0
	}
	hoursDiff := math.Abs(pt.Sub(gt).Hours())

	switch {
	case hoursDiff <= 48:
		return 0.05 * (1 - hoursDiff/48)
	case hoursDiff > 168:
		penalty := math.Min(hoursDiff/168-1, 1.0)
		return -0.03 * penalty
	default:
		return 0
	}
}

// topEntityMatches reports whether the article's highest-relevance
// entity is the same entity as the group's highest frequency*avg_relevance
// entity, and that entity is a strong topical anchor type.
func topEntityMatches(a signature.Article, g signature.Group) bool {
	if len(a.PrimaryEntities) == 0 || len(g.PrimaryEntities) == 0 {
		return false
	}
	top := a.PrimaryEntities[0] // Build sorts PrimaryEntities by relevance desc
	// BuildGroup sorts by frequency, then avg_relevance, so the largest
	// frequency*avg_relevance product is searched for explicitly.
	groupTop := g.PrimaryEntities[0]
	for _, ge := range g.PrimaryEntities[1:] {
		if ge.Frequency*ge.AvgRelevance > groupTop.Frequency*groupTop.AvgRelevance {
			groupTop = ge
		}
	}
	if top.EntityID != groupTop.EntityID {
		return false
	}
	return coreEntityTypes[top.Type]
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)
	intersection := 0
	for k := range setA {
		if setB[k] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}

func namesOf(items []signature.NamedAggregate) []string {
	out := make([]string, len(items))
	for i, a := range items {
		out[i] = a.Name
	}
	return out
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// GroupToGroup scores the similarity between two existing groups for
// merge consideration by running ArticleToGroup in both directions —
// treating each group's own aggregate signature as the "article" side
// against the other group — and averaging the two results. This
// reuses ArticleToGroup's temporal/source/core-entity-bonus logic
// rather than a separate formula, so a merge decision weighs the same
// dimensions a live grouping decision does.
func GroupToGroup(a, b signature.Group) Scores {
	ab := ArticleToGroup(asArticle(a), b)
	ba := ArticleToGroup(asArticle(b), a)
	return averageScores(ab, ba)
}

// asArticle degenerates a group signature into an article signature so
// it can stand in for the "article" side of ArticleToGroup: every
// primary entity is fully relevant to its own group (Relevance 1.0),
// so the resulting entitySimilarity reduces to how much of the other
// group's entity weight is covered by a match. Bare-name aggregates
// (companies, CVEs, events) become their plain name lists.
func asArticle(g signature.Group) signature.Article {
	primary := make([]model.EntityRef, len(g.PrimaryEntities))
	for i, e := range g.PrimaryEntities {
		primary[i] = model.EntityRef{
			EntityID:  e.EntityID,
			Name:      e.Name,
			Type:      e.Type,
			Relevance: 1.0,
		}
	}
	var source string
	if len(g.MemberSources) > 0 {
		source = g.MemberSources[0]
	}
	return signature.Article{
		ArticleID:       g.GroupID,
		Published:       g.LatestPublishedDate,
		Source:          source,
		PrimaryEntities: primary,
		Companies:       namesOf(g.Companies),
		CVEs:            namesOf(g.CVEs),
		Technologies:    g.Technologies,
		Products:        g.Products,
		Events:          namesOf(g.Events),
	}
}

// averageScores combines two Scores computed from opposite directions
// of the same pair into one symmetric result.
func averageScores(a, b Scores) Scores {
	return Scores{
		EntitySimilarity:  (a.EntitySimilarity + b.EntitySimilarity) / 2,
		CompanySimilarity: (a.CompanySimilarity + b.CompanySimilarity) / 2,
		CVESimilarity:     (a.CVESimilarity + b.CVESimilarity) / 2,
		EventSimilarity:   (a.EventSimilarity + b.EventSimilarity) / 2,
		Composite:         (a.Composite + b.Composite) / 2,
		TemporalAdjust:    (a.TemporalAdjust + b.TemporalAdjust) / 2,
		SourceBonus:       (a.SourceBonus + b.SourceBonus) / 2,
		CoreEntityBonus:   (a.CoreEntityBonus + b.CoreEntityBonus) / 2,
		Final:             clamp01((a.Final + b.Final) / 2),
	}
}

// recencyWindow records the 48h live-grouping window. Nothing reads
// it: similarity scoring is window-agnostic, and the Grouping
// Coordinator does not filter candidate groups by recency.
const recencyWindow = 48 * time.Hour
