package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gabrielee5/grafo-sub000/internal/auth"
	"github.com/gabrielee5/grafo-sub000/internal/events"
	"github.com/gabrielee5/grafo-sub000/internal/history"
	"github.com/gabrielee5/grafo-sub000/internal/http/handlers"
	httpapi "github.com/gabrielee5/grafo-sub000/internal/http/httpapi"
	"github.com/gabrielee5/grafo-sub000/internal/imaging"
	"github.com/gabrielee5/grafo-sub000/internal/infra"
	"github.com/gabrielee5/grafo-sub000/internal/infra/credentials"
	"github.com/gabrielee5/grafo-sub000/internal/infra/geoip"
	"github.com/gabrielee5/grafo-sub000/internal/kv"
	"github.com/gabrielee5/grafo-sub000/internal/middleware"
	"github.com/gabrielee5/grafo-sub000/internal/pipeline"
	"github.com/gabrielee5/grafo-sub000/internal/providers/genai"
	imageprov "github.com/gabrielee5/grafo-sub000/internal/providers/image"
	"github.com/gabrielee5/grafo-sub000/internal/providers/prompt"
	"github.com/gabrielee5/grafo-sub000/internal/storage"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBoot()

	backend, err := kv.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.KVBackend).Msg("failed to open record store")
	}
	defer backend.Close()

	blobs, staticDir, err := openBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.BlobBackend).Msg("failed to open blob store")
	}

	creds := credentials.NewStore(backend.Store)
	geminiKey, err := creds.Resolve(ctx, credentials.ProviderGemini, cfg.GeminiAPIKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve gemini api key")
	}
	if geminiKey == "" {
		logger.Warn().Msg("no gemini api key configured; image processing will answer with a configuration error")
	}
	gemini := genai.NewClient(genai.Options{
		APIKey:     geminiKey,
		BaseURL:    cfg.GeminiBaseURL,
		TextModel:  cfg.GeminiTextModel,
		ImageModel: cfg.GeminiImageModel,
		HTTPClient: &http.Client{Timeout: cfg.GatewayTimeout},
		Logger:     &logger,
	})

	var generator prompt.Generator = prompt.NewGeminiGenerator(gemini)
	if cfg.TextProvider == credentials.ProviderOpenAI {
		openAIKey, err := creds.Resolve(ctx, credentials.ProviderOpenAI, cfg.OpenAIAPIKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to resolve openai api key")
		}
		generator = prompt.NewOpenAIGenerator(prompt.OpenAIOptions{
			APIKey:     openAIKey,
			Model:      cfg.OpenAIModel,
			BaseURL:    cfg.OpenAIBaseURL,
			HTTPClient: &http.Client{Timeout: cfg.GatewayTimeout},
		})
	}
	templates, err := prompt.LoadTemplates(cfg.PromptTemplate)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load prompt templates")
	}
	text := prompt.NewService(generator, templates)
	logger.Info().Str("text_provider", text.Provider()).Str("template", cfg.PromptTemplate).Msg("gateways configured")

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqp, err := events.NewAMQPPublisher(cfg.AMQPURL, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to message broker")
		}
		publisher = amqp
	}
	defer publisher.Close()

	recorder := history.NewRecorder(backend.Store, blobs, history.Options{
		MaxEntries: cfg.HistoryMaxEntries,
		Logger:     &logger,
	})
	orchestrator := pipeline.NewOrchestrator(text, imageprov.NewGeminiTransformer(gemini), blobs, recorder, pipeline.Options{
		Validator:       imaging.Validator{MaxBytes: cfg.MaxUploadBytes, MaxPixels: cfg.MaxImagePixels, Allowed: cfg.AllowedMIMETypes},
		GatewayTimeout:  cfg.GatewayTimeout,
		PipelineTimeout: cfg.PipelineTimeout,
		Publisher:       publisher,
		Logger:          &logger,
	})

	accounts := auth.NewService(backend.Store, auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL), auth.Options{Logger: &logger})
	app := &handlers.App{
		Accounts:       accounts,
		Processor:      orchestrator,
		History:        recorder,
		Blobs:          blobs,
		Logger:         &logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
	if cfg.FirebaseProjectID != "" {
		app.Firebase = auth.NewFirebaseVerifier(cfg.FirebaseProjectID, cfg.FirebaseJWKSURL, nil)
	}

	resolver, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer resolver.Close()

	general, process := newLimiters(cfg, backend)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:         logger,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		DefaultLocale:  cfg.DefaultLocale,
		CountryLookup:  resolver.Lookup(),
		Authenticator:  accounts,
		GeneralLimiter: general,
		ProcessLimiter: process,
		StaticDir:      staticDir,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	// Give in-flight processing attempts time to finish and persist.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PipelineTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func openBlobStore(ctx context.Context, cfg *infra.Config) (storage.BlobStore, string, error) {
	if cfg.BlobBackend == "s3" {
		s3, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
			PresignTTL:    cfg.S3PresignTTL,
		})
		if err != nil {
			return nil, "", err
		}
		return s3, "", nil
	}
	fs, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		return nil, "", err
	}
	return fs, fs.BasePath(), nil
}

func newLimiters(cfg *infra.Config, backend *kv.Backend) (middleware.Limiter, middleware.Limiter) {
	if backend.Redis != nil {
		prefix := cfg.KVPrefix + ":ratelimit"
		return middleware.NewRedisLimiter(backend.Redis, prefix+":api", cfg.RateLimitMax, cfg.RateLimitWindow),
			middleware.NewRedisLimiter(backend.Redis, prefix+":process", cfg.ProcessRateLimitMax, cfg.ProcessRateLimitWindow)
	}
	return middleware.NewMemoryLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		middleware.NewMemoryLimiter(cfg.ProcessRateLimitMax, cfg.ProcessRateLimitWindow)
}
