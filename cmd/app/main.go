package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/bookfetcher/internal/ai"
	"github.com/local/bookfetcher/internal/books"
	"github.com/local/bookfetcher/internal/classify"
	cfgpkg "github.com/local/bookfetcher/internal/config"
	"github.com/local/bookfetcher/internal/identify"
	logpkg "github.com/local/bookfetcher/internal/logger"
	"github.com/local/bookfetcher/internal/metrics"
	"github.com/local/bookfetcher/internal/ocr"
	"github.com/local/bookfetcher/internal/server"
	"github.com/local/bookfetcher/internal/statuscheck"
	"github.com/local/bookfetcher/internal/storage"
	"github.com/local/bookfetcher/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()

	// Session store: Redis when configured, else in-process.
	var sessions store.Sessions
	var redisPinger statuscheck.RedisPinger
	if cfg.Store.RedisURL != "" {
		rs, err := store.NewRedisSessions(cfg.Store.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rs.Close()
		sessions = rs
		redisPinger = redisPingAdapter{rs}
	} else {
		sessions = store.NewMemorySessions()
		log.Info().Msg("using in-memory session store")
	}

	// Providers with failover.
	caller := buildCaller(cfg.Providers)
	classifier := classify.New(caller)
	classifier.SetPreviewChars(cfg.Extraction.PreviewChars)
	identifier := identify.New(caller)

	engine := ocr.NewTesseract(cfg.Extraction.OCRLanguage)
	if !engine.Available() {
		log.Warn().Msg("tesseract not found; sessions will run without OCR text")
	}

	// Optional S3 archiving.
	var archive server.Archiver
	if cfg.Archive.Bucket != "" {
		a, err := storage.NewArchive(context.Background(), cfg.Archive.Bucket, cfg.Archive.Passphrase)
		if err != nil {
			log.Warn().Err(err).Msg("archiving disabled")
		} else {
			archive = a
		}
	}

	checker := statuscheck.New(statuscheck.Options{
		Redis:        redisPinger,
		S3Bucket:     cfg.Archive.Bucket,
		OpenAIKey:    cfg.Providers.OpenAIKey,
		AnthropicKey: cfg.Providers.AnthropicKey,
		ScriptPath:   cfg.Extraction.ScriptPath,
	})

	srv := server.New(server.Dependencies{
		Cfg:        cfg,
		Sessions:   sessions,
		Identifier: identifier,
		Books:      books.NewClient(cfg.Books.APIKey),
		Classifier: classifier,
		Engine:     engine,
		Archive:    archive,
		Checker:    checker,
	})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: mux}
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Info().Msg("shutdown complete")
}

// buildCaller wires the primary/secondary provider pair from config.
func buildCaller(p cfgpkg.ProvidersConfig) *ai.Caller {
	openai := ai.NewOpenAIClient()
	anthropic := ai.NewAnthropicClient()

	caller := &ai.Caller{
		Primary:        openai,
		Secondary:      anthropic,
		PrimaryModel:   p.OpenAIModel,
		SecondaryModel: p.AnthropicModel,
		Timeout:        p.RequestTimeout,
	}
	if p.PrimaryEngine == "anthropic" {
		caller.Primary, caller.Secondary = anthropic, openai
		caller.PrimaryModel, caller.SecondaryModel = p.AnthropicModel, p.OpenAIModel
	}
	return caller
}

// redisPingAdapter exposes the session store's Redis client to status checks.
type redisPingAdapter struct {
	rs *store.RedisSessions
}

func (a redisPingAdapter) Ping(ctx context.Context) error {
	return a.rs.Client().Ping(ctx).Err()
}
