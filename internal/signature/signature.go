// Package signature builds the compact per-article and per-group
// fingerprints the Similarity Scorer and Grouping Coordinator compare.
package signature

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/store"
)

// PrimaryEntityMinRelevance is the relevance floor an article entity
// must clear to count as a "primary" entity in a signature.
const PrimaryEntityMinRelevance = 0.7

// Article is the per-article signature, carrying every facet the
// Similarity Scorer compares.
type Article struct {
	ArticleID       int64
	Published       string
	Source          string
	PrimaryEntities []model.EntityRef
	Companies       []string
	CVEs            []string
	Technologies    []model.EntityRef
	Products        []model.EntityRef
	References      []model.ExternalReference
	Events          []string
	Quotes          []model.Quote
	Author          string
}

// EntityAggregate is a group-level rollup of one entity across its
// member articles: how often it appears (frequency, 0-1) and its
// average relevance when it does.
type EntityAggregate struct {
	EntityID     int64
	Name         string
	Type         model.EntityType
	Frequency    float64
	AvgRelevance float64
}

// NamedAggregate is a group-level rollup of a bare name (company,
// CVE, event) across member articles.
type NamedAggregate struct {
	Name      string
	Frequency float64
}

// Group is the per-group signature, aggregated across every member
// article's Article signature.
type Group struct {
	GroupID             int64
	Label               string
	Description         string
	MainTopic           string
	PrimaryEntities     []EntityAggregate
	Companies           []NamedAggregate
	CVEs                []NamedAggregate
	Technologies        []model.EntityRef
	Products            []model.EntityRef
	Events              []NamedAggregate
	LatestPublishedDate string
	MemberSources       []string
}

// Build assembles an Article signature from the Store, gathering its
// entities, companies, CVEs, references, events, quotes, and byline.
func Build(ctx context.Context, q store.Queryer, articleID int64) (Article, error) {
	a, err := store.GetArticle(ctx, q, articleID)
	if err != nil {
		return Article{}, fmt.Errorf("signature: loading article %d: %w", articleID, err)
	}

	entities, err := store.ArticleEntities(ctx, q, articleID)
	if err != nil {
		return Article{}, fmt.Errorf("signature: loading entities for %d: %w", articleID, err)
	}

	var primary, tech, products []model.EntityRef
	for _, e := range entities {
		if e.Relevance >= PrimaryEntityMinRelevance {
			primary = append(primary, e)
		}
		switch e.Type {
		case model.EntityTypeTechnology:
			tech = append(tech, e)
		case model.EntityTypeProduct:
			products = append(products, e)
		}
	}
	sort.Slice(primary, func(i, j int) bool { return primary[i].Relevance > primary[j].Relevance })

	companies, err := store.ArticleCompanies(ctx, q, articleID)
	if err != nil {
		return Article{}, fmt.Errorf("signature: loading companies for %d: %w", articleID, err)
	}
	cves, err := store.ArticleCVEs(ctx, q, articleID)
	if err != nil {
		return Article{}, fmt.Errorf("signature: loading cves for %d: %w", articleID, err)
	}
	references, err := store.ArticleExternalReferences(ctx, q, articleID)
	if err != nil {
		return Article{}, fmt.Errorf("signature: loading references for %d: %w", articleID, err)
	}
	events, err := store.ArticleNamedEvents(ctx, q, articleID)
	if err != nil {
		return Article{}, fmt.Errorf("signature: loading events for %d: %w", articleID, err)
	}
	quotes, err := store.ArticleQuotes(ctx, q, articleID)
	if err != nil {
		return Article{}, fmt.Errorf("signature: loading quotes for %d: %w", articleID, err)
	}
	author, err := store.ArticleAuthor(ctx, q, articleID)
	if err != nil {
		return Article{}, fmt.Errorf("signature: loading author for %d: %w", articleID, err)
	}

	return Article{
		ArticleID:       articleID,
		Published:       model.FormatTime(a.Published),
		Source:          a.Source,
		PrimaryEntities: primary,
		Companies:       companies,
		CVEs:            cves,
		Technologies:    tech,
		Products:        products,
		References:      references,
		Events:          events,
		Quotes:          quotes,
		Author:          author,
	}, nil
}

// BuildGroup aggregates the signatures of every member article into a
// single Group signature: per-entity frequency (share of member
// articles mentioning it) and average relevance across those mentions.
func BuildGroup(ctx context.Context, q store.Queryer, g model.Group, memberIDs []int64) (Group, error) {
	out := Group{
		GroupID:     g.ID,
		Label:       g.Label,
		Description: g.Description,
		MainTopic:   g.MainTopic,
	}
	if len(memberIDs) == 0 {
		return out, nil
	}

	entityCounts := map[int64]int{}
	entityRelevanceSum := map[int64]float64{}
	entityMeta := map[int64]model.EntityRef{}
	companyCounts := map[string]int{}
	cveCounts := map[string]int{}
	eventCounts := map[string]int{}
	sources := map[string]bool{}
	var latest string
	techSeen := map[int64]model.EntityRef{}
	productSeen := map[int64]model.EntityRef{}

	n := 0
	for _, articleID := range memberIDs {
		sig, err := Build(ctx, q, articleID)
		if err != nil {
			continue // one bad article signature doesn't sink the group signature
		}
		n++
		for _, e := range sig.PrimaryEntities {
			entityCounts[e.EntityID]++
			entityRelevanceSum[e.EntityID] += e.Relevance
			entityMeta[e.EntityID] = e
		}
		for _, t := range sig.Technologies {
			techSeen[t.EntityID] = t
		}
		for _, p := range sig.Products {
			productSeen[p.EntityID] = p
		}
		for _, c := range sig.Companies {
			companyCounts[c]++
		}
		for _, c := range sig.CVEs {
			cveCounts[c]++
		}
		for _, ev := range sig.Events {
			eventCounts[ev]++
		}
		if sig.Source != "" {
			sources[sig.Source] = true
		}
		if sig.Published != "" && (latest == "" || sig.Published > latest) {
			latest = sig.Published
		}
	}
	if n == 0 {
		return out, nil
	}

	for id, meta := range entityMeta {
		out.PrimaryEntities = append(out.PrimaryEntities, EntityAggregate{
			EntityID:     id,
			Name:         meta.Name,
			Type:         meta.Type,
			Frequency:    float64(entityCounts[id]) / float64(n),
			AvgRelevance: entityRelevanceSum[id] / float64(entityCounts[id]),
		})
	}
	sort.Slice(out.PrimaryEntities, func(i, j int) bool {
		a, b := out.PrimaryEntities[i], out.PrimaryEntities[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		if a.AvgRelevance != b.AvgRelevance {
			return a.AvgRelevance > b.AvgRelevance
		}
		return a.EntityID < b.EntityID
	})

	for name, cnt := range companyCounts {
		out.Companies = append(out.Companies, NamedAggregate{Name: name, Frequency: float64(cnt) / float64(n)})
	}
	sort.Slice(out.Companies, func(i, j int) bool {
		a, b := out.Companies[i], out.Companies[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		return a.Name < b.Name
	})

	for id, cnt := range cveCounts {
		out.CVEs = append(out.CVEs, NamedAggregate{Name: id, Frequency: float64(cnt) / float64(n)})
	}
	sort.Slice(out.CVEs, func(i, j int) bool {
		a, b := out.CVEs[i], out.CVEs[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		return a.Name < b.Name
	})

	for name, cnt := range eventCounts {
		out.Events = append(out.Events, NamedAggregate{Name: name, Frequency: float64(cnt) / float64(n)})
	}
	sort.Slice(out.Events, func(i, j int) bool {
		a, b := out.Events[i], out.Events[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		return a.Name < b.Name
	})

	for _, t := range techSeen {
		out.Technologies = append(out.Technologies, t)
	}
	sort.Slice(out.Technologies, func(i, j int) bool {
		a, b := out.Technologies[i], out.Technologies[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.EntityID < b.EntityID
	})

	for _, p := range productSeen {
		out.Products = append(out.Products, p)
	}
	sort.Slice(out.Products, func(i, j int) bool {
		a, b := out.Products[i], out.Products[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.EntityID < b.EntityID
	})

	out.LatestPublishedDate = latest
	for s := range sources {
		out.MemberSources = append(out.MemberSources, s)
	}
	sort.Strings(out.MemberSources)

	return out, nil
}

// EntityHash computes a quick-match hash: an MD5 over the sorted
// primary-entity ids. Two articles with an identical primary-entity
// set hash identically regardless of other facets.
func EntityHash(a Article) string {
	ids := make([]int64, 0, len(a.PrimaryEntities))
	for _, e := range a.PrimaryEntities {
		ids = append(ids, e.EntityID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	encoded, _ := json.Marshal(ids)
	sum := md5.Sum(encoded)
	return hex.EncodeToString(sum[:])
}
