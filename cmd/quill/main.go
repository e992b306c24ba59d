package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meridianhq/quill/internal/config"
	"github.com/meridianhq/quill/internal/llm"
	_ "github.com/meridianhq/quill/internal/metrics" // Import for side effects
	"github.com/meridianhq/quill/internal/models"
	"github.com/meridianhq/quill/internal/pipeline"
	"github.com/meridianhq/quill/internal/session"
	"github.com/meridianhq/quill/internal/sources"
)

func main() {
	flag.Parse()
	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: quill <research query>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Observability.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Metrics endpoint; scrape-only, no other HTTP surface.
	if cfg.Observability.MetricsPort > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Observability.MetricsPort)
			logger.Info("Metrics endpoint listening", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Warn("Metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	reasoner, err := llm.NewOpenAIReasoner(llm.Settings{
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		logger.Fatal("Failed to build reasoning client", zap.Error(err))
	}

	store := buildStore(cfg, logger)
	p := pipeline.New(cfg, buildFetcher(cfg, logger), reasoner, store, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Budget.Total+30*time.Second)
	defer cancel()

	sess, err := p.Run(ctx, query)
	if err != nil {
		category := "internal"
		if sess != nil {
			category = sess.ErrorCategory
		}
		logger.Error("Research session failed",
			zap.String("category", category),
			zap.Error(err),
		)
		os.Exit(1)
	}

	printDraft(sess)
}

func buildLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		var lvl zap.AtomicLevel
		if err := lvl.UnmarshalText([]byte(level)); err == nil {
			zcfg.Level = lvl
		}
	}
	return zcfg.Build()
}

func buildStore(cfg *config.Config, logger *zap.Logger) session.Store {
	if cfg.Session.RedisAddr == "" {
		return session.NewMemoryStore()
	}
	store, err := session.NewRedisStore(cfg.Session.RedisAddr, cfg.Session.TTL, logger)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory session store", zap.Error(err))
		return session.NewMemoryStore()
	}
	return store
}

func buildFetcher(cfg *config.Config, logger *zap.Logger) *sources.Fetcher {
	chain := sources.NewChain(logger,
		sources.NewScholarProvider(cfg.Fetch.PrimaryBaseURL, cfg.Fetch.MaxResults, logger),
		sources.NewWebProvider(cfg.Fetch.SecondaryBaseURL, cfg.Fetch.MaxResults, logger),
	)
	return sources.NewFetcher(chain, sources.LoadAllowlist(cfg.Fetch.DomainsFile), sources.Thresholds{
		MinSources:   cfg.Fetch.MinSources,
		MinVenues:    cfg.Fetch.MinVenues,
		MinEffective: cfg.Fetch.MinEffective,
	}, logger)
}

func printDraft(sess *models.Session) {
	d := sess.Draft
	if d == nil {
		return
	}

	if d.Degraded {
		fmt.Println("NOTE: returned under degraded acceptance; unresolved review findings:")
		for _, w := range d.Warnings {
			fmt.Printf("  - %s (score %.2f)\n", w.GateName, w.Score)
			for _, issue := range w.Issues {
				fmt.Printf("      %s\n", issue)
			}
		}
		fmt.Println()
	}

	fmt.Println(d.Introduction)
	fmt.Println()
	fmt.Println(d.Body)
	fmt.Println()
	fmt.Println(d.Conclusion)
	fmt.Println()
	fmt.Println("References")
	for _, r := range d.References {
		line := fmt.Sprintf("[%d] %s", r.Number, r.Title)
		if r.Venue != "" {
			line += ", " + r.Venue
		}
		if r.Year > 0 {
			line += fmt.Sprintf(" (%d)", r.Year)
		}
		if r.URL != "" {
			line += ". " + r.URL
		}
		fmt.Println(line)
	}
}
