// Package orchestrator is the supervisor loop that ties the pipeline
// together: scrape-intake, enrichment, grouping, merging, and trend
// synthesis, run in that order on a ticker and cancelled via context.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/config"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/cveapi"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/enrich"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/fetch"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/grouping"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/httpx"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/llm"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/logging"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/merge"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/store"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/trend"
)

var log = logging.For("orchestrator")

// intakeConcurrency bounds the scrape-intake worker pool.
const intakeConcurrency = 5

// pendingCapacity bounds the in-memory backlog EnqueueURL feeds from.
// URL discovery is an external collaborator, so the Supervisor only
// drains whatever a caller (the ingest subcommand, today) has pushed
// onto it.
const pendingCapacity = 1000

// ungroupedBatchSize bounds how many ungrouped articles one pass
// processes, keeping a single pipeline run bounded in duration.
const ungroupedBatchSize = 500

// RunStats summarizes one full pipeline pass.
type RunStats struct {
	IntakeAttempted int
	IntakeFailed    int
	GroupingResults []grouping.Result
	Merge           merge.Stats
	Enrich          enrich.Stats
	Trend           trend.Stats
}

// Supervisor wires every component over one shared Store and runs them
// in pipeline order, either once (RunOnce) or on a schedule (Run).
type Supervisor struct {
	db          *store.Store
	fetcher     *fetch.Fetcher
	enricher    *enrich.Enricher
	coordinator *grouping.Coordinator
	merger      *merge.Merger
	trendSynth  *trend.Synthesizer
	cfg         *config.Config

	pending   chan string
	queuedMu  sync.Mutex
	queuedIDs map[uuid.UUID]struct{}
}

// New builds a Supervisor from a loaded Config. The LLM client is
// optional (a nil *llm.Client degrades every LLM-backed component to
// its documented deterministic fallback, per each package's doc
// comment); it is built here only when cfg.LLM.APIKey is set.
func New(ctx context.Context, cfg *config.Config, db *store.Store) (*Supervisor, error) {
	var client *llm.Client
	if cfg.LLM.APIKey != "" {
		c, err := llm.NewClient(ctx, cfg.LLM)
		if err != nil {
			return nil, err
		}
		client = c
	}

	httpClient := httpx.New(httpx.Options{
		Timeout:    time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.HTTP.MaxRetries,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	})
	cveClient := cveapi.New(httpClient)

	return &Supervisor{
		db:          db,
		fetcher:     fetch.New(httpClient),
		enricher:    enrich.New(db, client, cveClient, cfg.Enrich),
		coordinator: grouping.New(db, client, cfg.Grouping),
		merger:      merge.New(db, client, cfg.Merge),
		trendSynth:  trend.New(db, client, cfg.Trend),
		cfg:         cfg,
		pending:     make(chan string, pendingCapacity),
		queuedIDs:   make(map[uuid.UUID]struct{}),
	}, nil
}

// EnqueueURL schedules a page for the next scrape-intake pass. A URL is
// identified by a deterministic uuid.NewSHA1 over the URL namespace
// so the same page enqueued twice before the next drain is deduplicated
// rather than fetched and inserted redundantly. Non-blocking: once the
// backlog is full, further URLs are dropped (logged) rather than
// stalling the caller, since a slow producer shouldn't block the
// pipeline's own goroutine.
func (s *Supervisor) EnqueueURL(rawURL string) {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(rawURL))

	s.queuedMu.Lock()
	if _, dup := s.queuedIDs[id]; dup {
		s.queuedMu.Unlock()
		return
	}
	s.queuedIDs[id] = struct{}{}
	s.queuedMu.Unlock()

	select {
	case s.pending <- rawURL:
	default:
		s.queuedMu.Lock()
		delete(s.queuedIDs, id)
		s.queuedMu.Unlock()
		log.Warn().Str("url", rawURL).Msg("orchestrator: intake backlog full, dropping url")
	}
}

// Run loops on a ticker at the configured schedule interval, running
// one full pipeline pass per tick, until ctx is cancelled (typically
// by signal.NotifyContext on SIGINT/SIGTERM).
func (s *Supervisor) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.Schedule.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("orchestrator: starting")

	for {
		stats, err := s.RunOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("orchestrator: pass failed")
		} else {
			log.Info().
				Int("intake_attempted", stats.IntakeAttempted).
				Int("intake_failed", stats.IntakeFailed).
				Int("grouped", len(stats.GroupingResults)).
				Int("merged", stats.Merge.MergedPairs).
				Int("trends_identified", stats.Trend.Identified).
				Msg("orchestrator: pass complete")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("orchestrator: shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce drives a single pipeline pass in order: scrape-intake,
// Enrich, Grouping, Merge, Trend Synthesis. Each phase's own failure
// isolation (per-article, per-trend) keeps one bad item from aborting
// the rest; RunOnce itself only returns an error for a phase that
// fails outright (a Store-level problem such as a corrupt schema).
func (s *Supervisor) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats

	stats.IntakeAttempted, stats.IntakeFailed = s.drainIntake(ctx)

	enrichStats, err := s.enricher.Run(ctx)
	if err != nil {
		return stats, err
	}
	stats.Enrich = enrichStats

	ungrouped, err := store.UngroupedArticles(ctx, s.db.DB(), ungroupedBatchSize)
	if err != nil {
		return stats, err
	}
	for _, a := range ungrouped {
		result, err := s.coordinator.ProcessArticle(ctx, a.ID)
		if err != nil {
			log.Warn().Err(err).Int64("article", a.ID).Msg("orchestrator: grouping article failed")
			continue
		}
		stats.GroupingResults = append(stats.GroupingResults, result)
	}

	mergeStats, err := s.merger.Run(ctx)
	if err != nil {
		return stats, err
	}
	stats.Merge = mergeStats

	trendStats, err := s.trendSynth.Run(ctx)
	if err != nil {
		return stats, err
	}
	stats.Trend = trendStats

	return stats, nil
}

// drainIntake fetches and inserts every URL currently queued, fanning
// out across a bounded worker pool guarded by a semaphore, WaitGroup,
// and mutex-protected counters.
func (s *Supervisor) drainIntake(ctx context.Context) (attempted, failed int) {
	var urls []string
drain:
	for {
		select {
		case u := <-s.pending:
			urls = append(urls, u)
		default:
			break drain
		}
	}
	if len(urls) == 0 {
		return 0, 0
	}

	s.queuedMu.Lock()
	for _, u := range urls {
		delete(s.queuedIDs, uuid.NewSHA1(uuid.NameSpaceURL, []byte(u)))
	}
	s.queuedMu.Unlock()

	sem := make(chan struct{}, intakeConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, u := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(pageURL string) {
			defer wg.Done()
			defer func() { <-sem }()

			article, err := s.fetcher.FetchArticle(ctx, pageURL, "")
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				log.Warn().Err(err).Str("url", pageURL).Msg("orchestrator: fetch failed")
				return
			}
			if _, err := store.InsertArticle(ctx, s.db.DB(), article); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				log.Warn().Err(err).Str("url", pageURL).Msg("orchestrator: insert failed")
			}
		}(u)
	}
	wg.Wait()

	return len(urls), failed
}
