// Package enrich implements the Enricher: extracting entities,
// companies, CVEs, external references, named events, quotes, and a
// byline from newly ingested articles, then refreshing stale CVE
// metadata from the MITRE CVE Services API.
package enrich

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/config"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/cveapi"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/llm"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/logging"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/store"
)

var log = logging.For("enrich")

// articleExcerptChars caps how much of an article's body goes into a
// batch extraction prompt.
const articleExcerptChars = 3000

// minBatchSize/maxBatchSize bound the simplified stand-in for
// chunk_summaries' token-budget chunking: TokenBudget divided by an
// assumed per-article cost, clamped to a sane range.
const (
	minBatchSize            = 1
	maxBatchSize            = 10
	assumedTokensPerArticle = 900
	intakeLimit             = 200
)

// Stats summarizes one enrichment pass.
type Stats struct {
	ArticlesExtracted int
	ExtractionErrors  int
	CVEsRefreshed     int
	CVERefreshErrors  int
}

// Enricher extracts structured facts from article text and keeps CVE
// metadata current.
type Enricher struct {
	db  *store.Store
	llm *llm.Client
	cve *cveapi.Client
	cfg config.EnrichConfig
}

// New builds an Enricher. llmClient may be nil, in which case entity/
// company/event/quote/author extraction is skipped (CVE regex
// extraction and refresh still run, since neither needs the LLM).
func New(db *store.Store, llmClient *llm.Client, cveClient *cveapi.Client, cfg config.EnrichConfig) *Enricher {
	if cfg.CVERefreshDays <= 0 {
		cfg.CVERefreshDays = 7
	}
	return &Enricher{db: db, llm: llmClient, cve: cveClient, cfg: cfg}
}

// Run extracts facts for every unenriched article, then refreshes any
// CVE metadata that has gone stale.
func (e *Enricher) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	articles, err := store.ArticlesMissingEntities(ctx, e.db.DB(), intakeLimit)
	if err != nil {
		return stats, fmt.Errorf("enrich: listing unenriched articles: %w", err)
	}

	for _, a := range articles {
		if err := e.extractMechanical(ctx, a); err != nil {
			log.Warn().Err(err).Int64("article", a.ID).Msg("enrich: mechanical extraction failed")
		}
	}

	if e.llm != nil {
		for _, batch := range batchArticles(articles, e.batchSize()) {
			extracted, errs := e.extractLLMBatch(ctx, batch)
			stats.ArticlesExtracted += extracted
			stats.ExtractionErrors += errs
		}
	}

	if e.cve != nil {
		refreshed, refreshErrs := e.refreshCVEs(ctx)
		stats.CVEsRefreshed = refreshed
		stats.CVERefreshErrors = refreshErrs
	}

	return stats, nil
}

func (e *Enricher) batchSize() int {
	if e.cfg.TokenBudget <= 0 {
		return 5
	}
	n := e.cfg.TokenBudget / assumedTokensPerArticle
	if n < minBatchSize {
		return minBatchSize
	}
	if n > maxBatchSize {
		return maxBatchSize
	}
	return n
}

func batchArticles(articles []model.Article, size int) [][]model.Article {
	var batches [][]model.Article
	for i := 0; i < len(articles); i += size {
		end := i + size
		if end > len(articles) {
			end = len(articles)
		}
		batches = append(batches, articles[i:end])
	}
	return batches
}

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>\)]+`)

// extractMechanical runs the non-LLM extractions that don't need
// model judgment: CVE ids via regex (process_cves_in_articles) and
// outbound links via plain URL scanning, normalized through net/url.
func (e *Enricher) extractMechanical(ctx context.Context, a model.Article) error {
	return e.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, cveID := range cveapi.ExtractIDs(a.Body) {
			if err := store.LinkCVE(ctx, tx, a.ID, cveID, model.FormatTime(a.Published)); err != nil {
				return err
			}
		}

		for _, ref := range extractReferences(a) {
			if err := store.LinkExternalReference(ctx, tx, ref); err != nil {
				return err
			}
		}
		return nil
	})
}

func extractReferences(a model.Article) []model.ExternalReference {
	seen := make(map[string]bool)
	var out []model.ExternalReference
	for _, raw := range urlPattern.FindAllString(a.Body, -1) {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" {
			continue
		}
		normalized := parsed.Scheme + "://" + parsed.Host + parsed.Path
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, model.ExternalReference{
			ArticleID:     a.ID,
			OriginalURL:   raw,
			NormalizedURL: normalized,
			Domain:        parsed.Host,
			ReferenceType: "outbound_link",
		})
	}
	return out
}

type extractedEntity struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Relevance   float64 `json:"relevance"`
	Context     string  `json:"context"`
}

type extractedQuote struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type extractedArticle struct {
	ArticleID int64             `json:"article_id"`
	Entities  []extractedEntity `json:"entities"`
	Companies []string          `json:"companies"`
	Events    []string          `json:"events"`
	Quotes    []extractedQuote  `json:"quotes"`
	Author    string            `json:"author"`
}

type extractionResponse struct {
	Articles []extractedArticle `json:"articles"`
}

var extractionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"articles": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"article_id": {Type: genai.TypeInteger},
					"entities": {
						Type: genai.TypeArray,
						Items: &genai.Schema{
							Type: genai.TypeObject,
							Properties: map[string]*genai.Schema{
								"name":        {Type: genai.TypeString},
								"type":        {Type: genai.TypeString, Enum: []string{"person", "organization", "technology", "product", "place", "concept", "event", "other"}},
								"description": {Type: genai.TypeString},
								"relevance":   {Type: genai.TypeNumber, Description: "0.0 to 1.0"},
								"context":     {Type: genai.TypeString},
							},
							Required: []string{"name", "type", "relevance"},
						},
					},
					"companies": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
					"events":    {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
					"quotes": {
						Type: genai.TypeArray,
						Items: &genai.Schema{
							Type: genai.TypeObject,
							Properties: map[string]*genai.Schema{
								"speaker": {Type: genai.TypeString},
								"text":    {Type: genai.TypeString},
							},
							Required: []string{"speaker", "text"},
						},
					},
					"author": {Type: genai.TypeString},
				},
				Required: []string{"article_id", "entities"},
			},
		},
	},
	Required: []string{"articles"},
}

// extractLLMBatch asks the LLM to extract entities/companies/named
// events/quotes/author for one batch of articles in a single call,
// then persists each article's results in its own transaction so one
// article's malformed data doesn't discard the rest of the batch.
func (e *Enricher) extractLLMBatch(ctx context.Context, batch []model.Article) (extracted, errs int) {
	prompt := buildExtractionPrompt(batch)

	resp, err := e.llm.ChatJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "Extract named entities, companies, named events, quotes, and the byline from multiple articles in batch mode."},
		{Role: llm.RoleUser, Content: prompt},
	}, "", extractionSchema, 0.2)
	if err != nil {
		return 0, len(batch)
	}

	var parsed extractionResponse
	if err := json.Unmarshal([]byte(llm.StripJSONFence(resp)), &parsed); err != nil {
		return 0, len(batch)
	}

	for _, result := range parsed.Articles {
		if err := e.persistExtraction(ctx, result); err != nil {
			log.Warn().Err(err).Int64("article", result.ArticleID).Msg("enrich: persisting extraction failed")
			errs++
			continue
		}
		extracted++
	}
	return extracted, errs
}

func buildExtractionPrompt(batch []model.Article) string {
	var sb strings.Builder
	sb.WriteString("Extract important named entities (people, organizations, technologies, products, places, concepts), company names, named events (e.g. conferences, incidents), attributed quotes, and the byline author from each article below.\n\n")
	for _, a := range batch {
		excerpt := a.Body
		if len(excerpt) > articleExcerptChars {
			excerpt = excerpt[:articleExcerptChars]
		}
		sb.WriteString(fmt.Sprintf("Article ID=%d:\nTitle: %s\n%s\n\n", a.ID, a.Title, excerpt))
	}
	sb.WriteString("Return one entry per article_id. Only include an entity if you're reasonably confident it's genuinely discussed, not just mentioned in passing.")
	return sb.String()
}

func (e *Enricher) persistExtraction(ctx context.Context, result extractedArticle) error {
	return e.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, ent := range result.Entities {
			name := strings.TrimSpace(ent.Name)
			if name == "" {
				continue
			}
			entityID, err := store.UpsertEntity(ctx, tx, name, model.NormalizeEntityType(ent.Type), ent.Description)
			if err != nil {
				return err
			}
			if err := store.LinkEntityToArticle(ctx, tx, result.ArticleID, entityID, ent.Relevance, ent.Context); err != nil {
				return err
			}
		}

		for _, company := range result.Companies {
			company = strings.TrimSpace(company)
			if company == "" {
				continue
			}
			if err := store.LinkCompany(ctx, tx, result.ArticleID, company); err != nil {
				return err
			}
		}

		for _, eventName := range result.Events {
			eventName = strings.TrimSpace(eventName)
			if eventName == "" {
				continue
			}
			eventID, err := store.UpsertNamedEvent(ctx, tx, eventName)
			if err != nil {
				return err
			}
			if err := store.LinkArticleToEvent(ctx, tx, result.ArticleID, eventID); err != nil {
				return err
			}
		}

		for _, q := range result.Quotes {
			text := strings.TrimSpace(q.Text)
			if text == "" {
				continue
			}
			quoteID, err := store.UpsertQuote(ctx, tx, text, quoteHash(text, q.Speaker), q.Speaker)
			if err != nil {
				return err
			}
			if err := store.LinkArticleToQuote(ctx, tx, result.ArticleID, quoteID); err != nil {
				return err
			}
		}

		if author := strings.TrimSpace(result.Author); author != "" {
			if err := store.LinkAuthor(ctx, tx, result.ArticleID, author); err != nil {
				return err
			}
		}
		return nil
	})
}

// refreshCVEs fetches fresh metadata for every CVE whose cve_info row
// is missing or older than cfg.CVERefreshDays, following
// update_cve_details_from_api's 7-day skip window.
func (e *Enricher) refreshCVEs(ctx context.Context) (refreshed, failed int) {
	ids, err := store.DistinctCVEIDs(ctx, e.db.DB())
	if err != nil {
		log.Warn().Err(err).Msg("enrich: listing distinct cves failed")
		return 0, 0
	}

	cutoff := time.Duration(e.cfg.CVERefreshDays) * 24 * time.Hour

	for _, id := range ids {
		existing, err := store.GetCVEInfo(ctx, e.db.DB(), id)
		if err == nil && time.Since(existing.UpdatedAt) < cutoff {
			continue
		}

		info, err := e.cve.Fetch(ctx, id)
		if err != nil {
			failed++
			continue
		}

		count, err := store.CVEMentionCount(ctx, e.db.DB(), id)
		if err != nil {
			count = 0
		}
		info.TimesMentioned = count

		if err := store.UpsertCVEInfo(ctx, e.db.DB(), info); err != nil {
			log.Warn().Err(err).Str("cve", id).Msg("enrich: upserting cve info failed")
			failed++
			continue
		}
		refreshed++
	}
	return refreshed, failed
}

// quoteHash dedupes quotes by content, matching the quotes table's
// UNIQUE(quote_hash) constraint: the same attributed line reported in
// two different articles collapses to one row.
func quoteHash(text, speaker string) string {
	sum := md5.Sum([]byte(speaker + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
