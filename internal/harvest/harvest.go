// Package harvest runs the scrape-summarize-store pipeline. Page workers
// pull pages off a queue and scrape their timelines, post processors
// summarize the text, and a single writer batches rows into FBPosts.
package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"fbharvest/internal/database"
	"fbharvest/internal/models"
	"fbharvest/internal/pages"
	"fbharvest/internal/scraper"
	"fbharvest/internal/summarize"
)

// PageScraper extracts posts from a page timeline.
type PageScraper interface {
	FetchPosts(ctx context.Context, page string, maxPosts, maxTimelinePages int) ([]scraper.Post, error)
}

// rawPost pairs a scraped post with the page it came from.
type rawPost struct {
	Page string
	Post scraper.Post
}

// Harvester handles parallel harvesting of page timelines.
type Harvester struct {
	db         *database.DB
	scraper    PageScraper
	summarizer summarize.Summarizer

	WorkerCount   int
	PostsPerPage  int
	TimelinePages int

	pageQueue    chan pages.Page
	postQueue    chan rawPost
	dbWriteQueue chan models.FBPost
	errorQueue   chan error

	workerWg    sync.WaitGroup
	processorWg sync.WaitGroup
	processed   atomic.Int64
	duplicates  atomic.Int64

	// Counters for current processing state
	activeWorkers    atomic.Int32
	activeProcessors atomic.Int32
	activeWriters    atomic.Int32
	currentBatchSize atomic.Int32

	// Configuration for FBPosts DB batching
	batchSize    int
	batchTimeout time.Duration
}

const (
	defaultBatchSize    = 50
	defaultBatchTimeout = 2 * time.Second
)

// Options configure a Harvester beyond its dependencies.
type Options struct {
	WorkerCount   int
	PostsPerPage  int
	TimelinePages int
}

// NewHarvester creates a harvester using an existing database connection.
func NewHarvester(db *database.DB, sc PageScraper, sum summarize.Summarizer, opts Options) (*Harvester, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	if sc == nil {
		return nil, fmt.Errorf("scraper cannot be nil")
	}
	if sum == nil {
		sum = summarize.Noop{}
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("database connection is not valid: %w", err)
	}

	workerCount := opts.WorkerCount
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	postsPerPage := opts.PostsPerPage
	if postsPerPage <= 0 {
		postsPerPage = 5
	}
	timelinePages := opts.TimelinePages
	if timelinePages <= 0 {
		timelinePages = 2
	}

	postQueueSize := workerCount * 5
	dbWriteQueueSize := postQueueSize * 2

	return &Harvester{
		db:            db,
		scraper:       sc,
		summarizer:    sum,
		WorkerCount:   workerCount,
		PostsPerPage:  postsPerPage,
		TimelinePages: timelinePages,
		pageQueue:     make(chan pages.Page, workerCount*2),
		postQueue:     make(chan rawPost, postQueueSize),
		dbWriteQueue:  make(chan models.FBPost, dbWriteQueueSize),
		errorQueue:    make(chan error, workerCount),
		batchSize:     defaultBatchSize,
		batchTimeout:  defaultBatchTimeout,
	}, nil
}

// Run harvests the given pages in parallel and stores new posts.
func (h *Harvester) Run(ctx context.Context, pageList []pages.Page) error {
	progressTicker := time.NewTicker(time.Minute)
	defer progressTicker.Stop()

	// goroutine to log progress
	go func() {
		for {
			select {
			case <-progressTicker.C:
				processed, duplicates := h.Stats()
				log.Info().
					Int64("processed", processed).
					Int64("duplicates", duplicates).
					Int32("active_workers", h.activeWorkers.Load()).
					Int32("active_processors", h.activeProcessors.Load()).
					Int32("active_writers", h.activeWriters.Load()).
					Int32("current_batch_size", h.currentBatchSize.Load()).
					Int("page_queue_size", len(h.pageQueue)).
					Int("post_queue_size", len(h.postQueue)).
					Int("db_write_queue_size", len(h.dbWriteQueue)).
					Msg("Harvest progress")
			case <-ctx.Done():
				return
			}
		}
	}()

	var stageWg sync.WaitGroup // WaitGroup for the main pipeline stages

	errChan := make(chan error, 1) // Channel to collect the first error
	go func() {
		var firstErr error
		for err := range h.errorQueue {
			if err != nil {
				log.Error().
					Err(err).
					Msg("Error occurred")
				// Only store critical errors (database connection, etc.)
				if firstErr == nil && strings.Contains(err.Error(), "database") {
					firstErr = err
				}
			}
		}
		errChan <- firstErr
		close(errChan)
	}()

	// Start pipeline stages (workers, processors, writer)
	stageWg.Add(1)
	go func() {
		defer stageWg.Done()
		for i := 0; i < h.WorkerCount; i++ {
			h.workerWg.Add(1)
			go h.pageWorker(ctx)
		}
		h.workerWg.Wait()
		close(h.postQueue)
		log.Info().Msg("All page workers finished.")
	}()

	stageWg.Add(1)
	go func() {
		defer stageWg.Done()
		for i := 0; i < h.WorkerCount; i++ {
			h.processorWg.Add(1)
			go h.postProcessor(ctx)
		}
		h.processorWg.Wait()
		close(h.dbWriteQueue)
		log.Info().Msg("All post processors finished.")
	}()

	stageWg.Add(1)
	go func() {
		defer stageWg.Done()
		h.databaseWriter(ctx)
		log.Info().Msg("Database writer finished.")
	}()

	log.Info().
		Int("pages", len(pageList)).
		Msg("Queueing pages to harvest.")

		// Queue the pages
pageLoop:
	for _, page := range pageList {
		pageToSend := page // Make a copy for the channel
		select {
		case h.pageQueue <- pageToSend:
		case <-ctx.Done():
			log.Info().
				Err(ctx.Err()).
				Msg("Context cancelled during page queuing")
			break pageLoop
		}
	}
	// Signal that no more pages will be added.
	close(h.pageQueue)
	log.Info().Msg("Finished queueing pages.")

	// Wait for pipeline stage launchers/writer to complete their shutdown logic
	stageWg.Wait()
	log.Info().Msg("All harvest stages complete.")

	// Close error queue *after* all goroutines that might write to it are done
	close(h.errorQueue)

	// Wait for the error collector and return result
	finalErr := <-errChan
	log.Info().Msg("Error collector finished.")
	return finalErr
}

// pageWorker receives pages, scrapes their timelines, and queues raw posts.
func (h *Harvester) pageWorker(ctx context.Context) {
	defer h.workerWg.Done()
	h.activeWorkers.Add(1)
	defer h.activeWorkers.Add(-1)
	log.Debug().Msg("Page worker started")

	for {
		select {
		case page, ok := <-h.pageQueue:
			if !ok {
				log.Debug().Msg("Page worker exiting (pageQueue closed)")
				return
			}

			pageCtx, cancelPageCtx := context.WithTimeout(ctx, time.Minute*2)

			maxPosts := page.MaxPosts
			if maxPosts <= 0 {
				maxPosts = h.PostsPerPage
			}

			log.Info().
				Str("page", page.Name).
				Int("max_posts", maxPosts).
				Msg("Harvesting page")

			posts, fetchErr := h.scraper.FetchPosts(pageCtx, page.Name, maxPosts, h.TimelinePages)
			if fetchErr != nil {
				h.sendError(fmt.Errorf("error harvesting page %s: %w", page.Name, fetchErr))
				cancelPageCtx()
				continue
			}

			if len(posts) > 0 {
				log.Info().
					Str("page", page.Name).
					Int("posts", len(posts)).
					Msg("Page harvested successfully, queuing posts")
			}

			for _, post := range posts {
				if post.PostID == "" {
					h.sendError(fmt.Errorf("post from page %s has empty post id", page.Name))
					continue
				}
				select {
				case h.postQueue <- rawPost{Page: page.Name, Post: post}:
				case <-pageCtx.Done(): // Check per-page timeout
					log.Warn().
						Str("page", page.Name).
						Err(pageCtx.Err()).
						Msg("Page worker cancelling post queueing due to page context")
					goto EndPageProcessing
				case <-ctx.Done(): // Check outer context
					log.Info().
						Str("page", page.Name).
						Err(ctx.Err()).
						Msg("Page worker cancelling post queueing due to outer context")
					goto EndPageProcessing
				}
			}

		EndPageProcessing:
			cancelPageCtx()

		case <-ctx.Done():
			log.Info().
				Err(ctx.Err()).
				Msg("Page worker cancelling")
			return
		}
	}
}

// postProcessor summarizes raw posts and passes FBPost rows to the writer.
func (h *Harvester) postProcessor(ctx context.Context) {
	defer h.processorWg.Done()
	h.activeProcessors.Add(1)
	defer h.activeProcessors.Add(-1)
	log.Debug().Msg("Post processor started")

	for {
		select {
		case raw, ok := <-h.postQueue:
			if !ok {
				log.Debug().Msg("Post processor exiting (postQueue closed)")
				return
			}

			row := h.buildRow(ctx, raw)

			select {
			case h.dbWriteQueue <- row:
				// Row successfully queued for writing
			case <-ctx.Done():
				log.Info().
					Err(ctx.Err()).
					Str("post_id", row.PostID).
					Msg("Post processor cancelling during DB queueing")
				return
			}
		case <-ctx.Done():
			log.Info().
				Err(ctx.Err()).
				Msg("Post processor cancelling")
			return
		}
	}
}

// buildRow turns a scraped post into an FBPosts row, summarizing its text.
// A summarizer failure is reported but does not drop the post; the row is
// stored with a NULL summary.
func (h *Harvester) buildRow(ctx context.Context, raw rawPost) models.FBPost {
	post := raw.Post

	summaryCtx, cancel := context.WithTimeout(ctx, time.Minute)
	summary, sumErr := h.summarizer.Summarize(summaryCtx, post.Text)
	cancel()
	if sumErr != nil {
		h.sendError(fmt.Errorf("failed to summarize post %s from page %s: %w", post.PostID, raw.Page, sumErr))
		summary = ""
	}

	row := models.FBPost{
		PostID:      post.PostID,
		PostURL:     post.URL,
		Text:        models.NullString(post.Text),
		Summary:     models.NullString(summary),
		Attachments: models.NullString(encodeAttachments(post)),
	}
	if !post.Time.IsZero() {
		row.PostTime.Time = post.Time.UTC().Truncate(time.Second)
		row.PostTime.Valid = true
	}
	return row
}

// encodeAttachments serializes image and video references to JSON. Posts
// with no media get an empty string, which is stored as NULL.
func encodeAttachments(post scraper.Post) string {
	if len(post.Images) == 0 && post.Video == "" {
		return ""
	}
	encoded, err := json.Marshal(map[string]any{
		"images": post.Images,
		"video":  post.Video,
	})
	if err != nil {
		return ""
	}
	return string(encoded)
}

// databaseWriter handles batch inserts into the FBPosts table.
func (h *Harvester) databaseWriter(ctx context.Context) {
	log.Info().Msg("Database writer for FBPosts started")
	h.activeWriters.Add(1)
	defer h.activeWriters.Add(-1)

	batch := make([]models.FBPost, 0, h.batchSize)
	ticker := time.NewTicker(h.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case row, ok := <-h.dbWriteQueue:
			if !ok {
				log.Info().Msg("DB writer: dbWriteQueue closed, processing final batch")
				if len(batch) > 0 {
					h.processBatch(ctx, batch)
				}
				log.Info().Msg("DB writer for FBPosts exiting")
				return
			}

			batch = append(batch, row)
			h.currentBatchSize.Store(int32(len(batch)))

			if len(batch) >= h.batchSize {
				h.processBatch(ctx, batch)
				batch = make([]models.FBPost, 0, h.batchSize)
				h.currentBatchSize.Store(0)
				ticker.Reset(h.batchTimeout)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				h.processBatch(ctx, batch)
				batch = make([]models.FBPost, 0, h.batchSize)
				h.currentBatchSize.Store(0)
			}

		case <-ctx.Done():
			log.Info().
				Err(ctx.Err()).
				Msg("DB writer: Context cancelled, processing final batch")
			if len(batch) > 0 {
				h.processBatch(ctx, batch)
			}
			log.Info().Msg("DB writer for FBPosts exiting due to context cancellation")
			return
		}
	}
}

func (h *Harvester) processBatch(ctx context.Context, batch []models.FBPost) {
	if len(batch) == 0 {
		return
	}

	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		h.sendError(fmt.Errorf("FBPosts writer: failed to begin transaction: %w", err))
		return
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO FBPosts (post_id, post_url, post_time, text, summary, attachments)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(post_id) DO NOTHING;`)
	if err != nil {
		h.sendError(fmt.Errorf("FBPosts writer: failed to prepare batch insert: %w", err))
		return
	}
	defer stmt.Close()

	processedInBatch := 0
	duplicatesInBatch := 0

	for _, row := range batch {
		res, err := stmt.ExecContext(ctx,
			row.PostID, row.PostURL, row.PostTime,
			row.Text, row.Summary, row.Attachments,
		)
		if err != nil {
			h.sendError(fmt.Errorf("FBPosts writer: failed to insert post %s: %w", row.PostID, err))
			continue
		}
		rowsAffected, err := res.RowsAffected()
		if err != nil {
			h.sendError(fmt.Errorf("FBPosts writer: failed get rows affected for %s: %w", row.PostID, err))
			duplicatesInBatch++
			continue
		}
		if rowsAffected > 0 {
			processedInBatch++
		} else {
			// Post already stored from an earlier run; the first
			// observation wins and is never overwritten.
			duplicatesInBatch++
			log.Debug().
				Str("post_id", row.PostID).
				Str("post_url", row.PostURL).
				Msg("Duplicate post_id detected")
		}
	}

	if err := tx.Commit(); err != nil {
		h.sendError(fmt.Errorf("FBPosts writer: failed to commit transaction: %w", err))
		return
	}

	h.processed.Add(int64(processedInBatch))
	h.duplicates.Add(int64(duplicatesInBatch))

	log.Info().
		Int("processed", processedInBatch).
		Int("duplicates", duplicatesInBatch).
		Msg("Batch processed")
}

// sendError sends an error to the error queue without blocking.
func (h *Harvester) sendError(err error) {
	if err == nil {
		return
	}
	// Non-blocking send to error queue
	select {
	case h.errorQueue <- err:
	default:
		// Log if the error queue is full to avoid blocking the sender
		log.Error().
			Err(err).
			Msg("Error queue full, logging error instead of queuing")
	}
}

// Stats returns harvest statistics for FBPosts.
func (h *Harvester) Stats() (processed, duplicates int64) {
	processed = h.processed.Load()
	duplicates = h.duplicates.Load()
	return
}
