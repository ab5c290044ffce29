package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fbharvest/internal/chat"
	"fbharvest/internal/config"
	"fbharvest/internal/database"
	"fbharvest/internal/harvest"
	"fbharvest/internal/pages"
	"fbharvest/internal/scraper"
	"fbharvest/internal/server"
	"fbharvest/internal/server/api"
	"fbharvest/internal/storage"
	"fbharvest/internal/summarize"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

func main() {
	cfg := config.DefaultConfig()

	harvestCmd := flag.NewFlagSet("harvest", flag.ExitOnError)
	harvestCmd.StringVar(&cfg.PagesCSVPath, "pages", config.GetEnvString("FBHARVEST_PAGES_PATH", config.DefaultPagesCSVPath),
		"Path to the pages CSV file (env: FBHARVEST_PAGES_PATH)")
	harvestCmd.StringVar(&cfg.DBPath, "db", config.GetEnvString("FBHARVEST_DB_PATH", config.DefaultDBPath),
		"Path to the SQLite database file (env: FBHARVEST_DB_PATH)")

	var logLevelStr string
	harvestCmd.StringVar(&logLevelStr, "log-level", config.GetEnvString("FBHARVEST_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: FBHARVEST_LOG_LEVEL)")

	harvestCmd.DurationVar(&cfg.Interval, "interval",
		config.GetEnvDuration("FBHARVEST_INTERVAL", time.Duration(config.DefaultInterval)*time.Minute),
		"Interval between harvest runs (e.g. 30m, 2h), 0 for one-shot mode (env: FBHARVEST_INTERVAL, bare values are minutes)")

	harvestCmd.IntVar(&cfg.WorkerCount, "workers", config.GetEnvInt("FBHARVEST_WORKER_COUNT", config.DefaultWorkerCount),
		"Number of worker goroutines for harvesting, 0 for CPU count (env: FBHARVEST_WORKER_COUNT)")

	harvestCmd.IntVar(&cfg.PostsPerPage, "posts-per-page", config.GetEnvInt("FBHARVEST_POSTS_PER_PAGE", config.DefaultPostsPerPage),
		"Maximum posts stored per page per run (env: FBHARVEST_POSTS_PER_PAGE)")

	harvestCmd.IntVar(&cfg.TimelinePages, "timeline-pages", config.GetEnvInt("FBHARVEST_TIMELINE_PAGES", config.DefaultTimelinePages),
		"Timeline HTML pages fetched per page (env: FBHARVEST_TIMELINE_PAGES)")

	var reset bool
	harvestCmd.BoolVar(&reset, "reset", false, "Delete and recreate the database before harvesting")

	serverCmd := flag.NewFlagSet("server", flag.ExitOnError)
	serverCmd.StringVar(&cfg.DBPath, "db", config.GetEnvString("FBHARVEST_DB_PATH", config.DefaultDBPath),
		"Path to the SQLite database file (env: FBHARVEST_DB_PATH)")

	serverCmd.StringVar(&cfg.ServerHost, "host", config.GetEnvString("FBHARVEST_HOST", config.DefaultServerHost),
		"Host to bind the server to (env: FBHARVEST_HOST)")

	serverCmd.IntVar(&cfg.ServerPort, "port", config.GetEnvInt("FBHARVEST_PORT", config.DefaultServerPort),
		"Port to listen on (env: FBHARVEST_PORT)")

	var serverLogLevelStr string
	serverCmd.StringVar(&serverLogLevelStr, "log-level", config.GetEnvString("FBHARVEST_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: FBHARVEST_LOG_LEVEL)")

	if len(os.Args) < 2 {
		fmt.Println("Usage: fbharvest [command] [options]")
		fmt.Println("Commands: harvest, server")
		fmt.Println("\nFor command-specific options, use: fbharvest [command] -h")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "harvest":
		harvestCmd.Parse(os.Args[2:])

		// Handle log level parsing separately since it needs conversion
		if level, err := zerolog.ParseLevel(logLevelStr); err == nil {
			cfg.LogLevel = level
		}

		zerolog.SetGlobalLevel(cfg.LogLevel)

		err := runHarvest(cfg, reset)
		if err != nil {
			log.Error().Err(err).Msg("Harvest failed")
			os.Exit(1)
		}

	case "server":
		serverCmd.Parse(os.Args[2:])

		// Handle log level parsing separately
		if level, err := zerolog.ParseLevel(serverLogLevelStr); err == nil {
			cfg.LogLevel = level
		}

		zerolog.SetGlobalLevel(cfg.LogLevel)

		err := runServer(cfg)
		if err != nil {
			log.Error().Err(err).Msg("Server failed")
			os.Exit(1)
		}

	case "-h", "--help", "help":
		fmt.Println("Usage: fbharvest [command] [options]")
		fmt.Println("Commands: harvest, server")
		fmt.Println("\nFor command-specific options, use: fbharvest [command] -h")
		os.Exit(0)

	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println("Available commands: harvest, server")
		fmt.Println("\nFor command-specific options, use: fbharvest [command] -h")
		os.Exit(1)
	}
}

// runHarvest executes the harvest pipeline either once or periodically
// based on configuration. With -reset it prompts before deleting an
// existing database.
func runHarvest(cfg *config.Config, reset bool) error {
	if reset {
		if _, err := os.Stat(cfg.DBPath); err == nil {
			fmt.Printf("Database %s already exists. All stored posts will be lost.\n", cfg.DBPath)
			fmt.Print("Delete and recreate? (y/N): ")

			var answer string
			fmt.Scanln(&answer)

			if strings.ToLower(answer) != "y" {
				log.Info().Msg("Operation canceled by user")
				return fmt.Errorf("operation canceled by user")
			}

			if err := database.DeleteDB(cfg.DBPath); err != nil {
				log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to delete existing database")
				return fmt.Errorf("failed to delete existing database: %w", err)
			}
			log.Info().Str("path", cfg.DBPath).Msg("Deleted existing database")
		}
	}

	if cfg.OneShot() {
		log.Info().Msg("Running in one-shot mode")
	} else {
		log.Info().Int64("interval_minutes", int64(cfg.Interval.Minutes())).Msg("Running in periodic mode")
	}

	pageList, err := pages.LoadPages(cfg.PagesCSVPath)
	if err != nil {
		return fmt.Errorf("failed to load page list: %w", err)
	}
	if len(pageList) == 0 {
		return fmt.Errorf("page list %s contains no pages", cfg.PagesCSVPath)
	}

	dbCfg := database.NewConfig(cfg.DBPath)
	db, err := database.NewDB(dbCfg)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	sc, err := scraper.New(scraper.Config{
		RequestTimeout: 15 * time.Second,
		Retry:          2,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scraper: %w", err)
	}

	var summarizer summarize.Summarizer
	if cfg.OpenAIKey != "" {
		summarizer, err = summarize.NewOpenAISummarizer(cfg.OpenAIKey, cfg.OpenAIModel)
		if err != nil {
			return fmt.Errorf("failed to initialize summarizer: %w", err)
		}
		log.Info().Str("model", cfg.OpenAIModel).Msg("Summarization enabled")
	} else {
		summarizer = summarize.Noop{}
		log.Warn().Msg("OPENAI_API_KEY not set, posts will be stored without summaries")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-shutdown
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel() // Cancel the context to stop harvesting
	}()

	if err := runHarvestCycle(ctx, db, sc, summarizer, cfg, pageList); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Harvest cycle canceled by shutdown signal")
			return nil
		}
		return err
	}

	if cfg.OneShot() {
		log.Info().Msg("One-shot harvest completed, exiting")
		return nil
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", cfg.Interval).
		Time("next_run", time.Now().Add(cfg.Interval)).
		Msg("Waiting for next harvest cycle")

	for {
		select {
		case <-ticker.C:
			log.Info().Msg("Starting scheduled harvest cycle")

			if err := runHarvestCycle(ctx, db, sc, summarizer, cfg, pageList); err != nil {
				if errors.Is(err, context.Canceled) {
					log.Info().Msg("Harvest cycle canceled by shutdown signal")
					return nil
				}
				log.Error().Err(err).Msg("Harvest cycle failed")
				// Continue to the next cycle rather than exiting
			}

			log.Info().
				Time("next_run", time.Now().Add(cfg.Interval)).
				Msg("Waiting for next harvest cycle")

		case <-ctx.Done():
			log.Info().Msg("Shutting down periodic harvesting")
			return nil
		}
	}
}

// runHarvestCycle executes a single harvest cycle over the page list.
func runHarvestCycle(ctx context.Context, db *database.DB, sc *scraper.Scraper, summarizer summarize.Summarizer, cfg *config.Config, pageList []pages.Page) error {
	harvester, err := harvest.NewHarvester(db, sc, summarizer, harvest.Options{
		WorkerCount:   cfg.WorkerCount,
		PostsPerPage:  cfg.PostsPerPage,
		TimelinePages: cfg.TimelinePages,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize harvester: %w", err)
	}

	harvestCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	log.Info().
		Int("worker_count", harvester.WorkerCount).
		Int("pages", len(pageList)).
		Msg("Starting harvest cycle")

	startTime := time.Now()
	err = harvester.Run(harvestCtx, pageList)
	endTime := time.Now()

	log.Info().
		Dur("duration", endTime.Sub(startTime)).
		Msg("Harvest cycle finished")

	if err != nil {
		if ctxErr := harvestCtx.Err(); ctxErr != nil && (errors.Is(ctxErr, err) || err.Error() == ctxErr.Error()) {
			return ctx.Err() // Propagate cancellation
		}
		return fmt.Errorf("harvest error: %w", err)
	}

	processed, duplicates := harvester.Stats()
	log.Info().
		Int64("processed", processed).
		Int64("duplicates", duplicates).
		Msg("Harvest stats")

	countCtx, countCancel := context.WithTimeout(ctx, 15*time.Second)
	defer countCancel()

	repo := storage.NewRepository(db)
	if total, countErr := repo.CountPosts(countCtx); countErr != nil {
		log.Warn().Err(countErr).Msg("Failed to count stored posts")
	} else {
		log.Info().Int64("total_posts", total).Msg("Stored post count")
	}

	return nil
}

// runServer starts the HTTP API server with the provided configuration.
func runServer(cfg *config.Config) error {
	log.Debug().Msg("Starting server with debug logging enabled")

	dbCfg := database.NewConfig(cfg.DBPath)
	dbCfg.ReadOnly = true

	db, err := database.NewDB(dbCfg)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	var bot api.Responder
	if cfg.OpenAIKey != "" {
		b, err := chat.NewBot(db, storage.NewRepository(db), cfg.OpenAIKey, cfg.OpenAIModel)
		if err != nil {
			return fmt.Errorf("failed to initialize chat bot: %w", err)
		}
		bot = b
		log.Info().Str("model", cfg.OpenAIModel).Msg("Ask endpoint enabled")
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set, ask endpoint disabled")
	}

	return server.RunServer(db, cfg.ListenAddr(), log.Logger, cfg.APIKey, bot)
}
