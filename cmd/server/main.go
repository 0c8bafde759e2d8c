package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/calendar"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/feature"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/forecast"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/metrics"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/model"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/provider"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/results"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/runlog"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/series"
	"github.com/Aditya1198/M5-Sales-Forecasting/pkg/otel"
)

type Server struct {
	params      api.Params
	forecaster  *forecast.Forecaster
	histories   *provider.Cached
	resultStore results.Store
	runLog      *runlog.RunLog
	metrics     *metrics.Metrics
	limiter     *rate.Limiter
	metricsAuth struct {
		enabled  bool
		user     string
		password string
	}
}

type forecastRequest struct {
	ItemID       string `json:"item_id"`
	StoreID      string `json:"store_id"`
	ForecastDays int    `json:"forecast_days"`
}

func main() {
	ctx := context.Background()
	params := api.DefaultParams()
	if hours := getEnvInt("RESULT_TTL_HOURS", 0); hours > 0 {
		params.ResultTTL = time.Duration(hours) * time.Hour
	}

	// Persisted category code table: training and serving must encode ids
	// identically, so the table the trainer exported is loaded here.
	var codes *feature.CodeTable
	if path := getEnv("CODE_TABLE", ""); path != "" {
		var err error
		codes, err = feature.LoadCodeTable(path)
		if err != nil {
			log.Fatalf("Failed to load code table: %v", err)
		}
	}

	// History backend
	historyBackend := getEnv("HISTORY_BACKEND", "csv")
	var histories provider.HistoryProvider
	var prices provider.PriceProvider
	var calTable calendar.Provider

	switch historyBackend {
	case "csv":
		dataDir := getEnv("DATA_DIR", "data/m5")
		csvProv, err := provider.NewCSVProvider(dataDir, codes)
		if err != nil {
			log.Fatalf("Failed to open CSV data in %s: %v", dataDir, err)
		}
		histories = csvProv
		prices = csvProv
		calTable = csvProv.CalendarTable()
	case "postgres":
		if codes == nil {
			log.Fatal("CODE_TABLE is required when HISTORY_BACKEND=postgres")
		}
		connStr := getEnv("POSTGRES_CONN", "")
		pgProv, err := provider.NewPostgresProvider(ctx, connStr, codes)
		if err != nil {
			log.Fatalf("Failed to connect history database: %v", err)
		}
		defer pgProv.Close()
		histories = pgProv
		prices = pgProv
	default:
		log.Fatalf("Unknown HISTORY_BACKEND: %s", historyBackend)
	}

	cached, err := provider.NewCached(histories,
		getEnvInt("SERIES_CACHE_SIZE", 4096),
		time.Duration(getEnvInt("SERIES_CACHE_TTL_MIN", 60))*time.Minute)
	if err != nil {
		log.Fatalf("Failed to create series cache: %v", err)
	}

	// Model registry: every *.json ensemble in the directory is loaded and
	// the newest version activated.
	registry := model.NewRegistry(getEnv("MODEL_DIR", "models"))
	if _, err := registry.LoadDir(); err != nil {
		log.Fatalf("Failed to load models: %v", err)
	}
	active := registry.Active()
	if active == nil {
		log.Fatalf("No model found in %s", getEnv("MODEL_DIR", "models"))
	}
	log.Printf("Active model version %s (%d trees)", active.Ensemble.Version(), active.Ensemble.NumTrees())

	// Result store
	resultBackend := getEnv("RESULT_BACKEND", "memory")
	var resultStore results.Store

	switch resultBackend {
	case "memory":
		snapshotPath := getEnv("RESULT_SNAPSHOT", "data/results.json")
		resultStore = results.NewMemoryStore(snapshotPath)
	case "redis":
		resultStore, err = results.NewAtomicRedisStore(
			getEnv("REDIS_ADDR", "localhost:6379"),
			getEnv("REDIS_PASSWORD", ""),
			getEnvInt("REDIS_DB", 0))
		if err != nil {
			log.Fatalf("Failed to create Redis result store: %v", err)
		}
	case "postgres":
		resultStore, err = results.NewAtomicPostgresStore(getEnv("POSTGRES_CONN", ""))
		if err != nil {
			log.Fatalf("Failed to create Postgres result store: %v", err)
		}
	default:
		log.Fatalf("Unknown RESULT_BACKEND: %s", resultBackend)
	}

	// Run log
	runLog, err := runlog.New(getEnv("RUNLOG_DIR", "data/runlog"))
	if err != nil {
		log.Fatalf("Failed to create run log: %v", err)
	}

	// Tracing (optional)
	var tp interface {
		Shutdown(context.Context) error
	}
	if getEnv("OTEL_ENABLED", "") == "true" {
		cfg := otel.DefaultConfig("m5-forecast")
		cfg.CollectorEndpoint = getEnv("OTEL_COLLECTOR", cfg.CollectorEndpoint)
		tracerProvider, err := otel.InitTracer(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		tp = tracerProvider
	}

	m := metrics.New()

	// Rate limiter
	tokenRate := getEnvInt("TOKEN_RATE", 100)
	limiter := rate.NewLimiter(rate.Limit(tokenRate), tokenRate*2)

	srv := &Server{
		params:      params,
		forecaster:  forecast.New(params, active.Ensemble, calendar.NewFallback(calTable), prices, m),
		histories:   cached,
		resultStore: resultStore,
		runLog:      runLog,
		metrics:     m,
		limiter:     limiter,
	}

	// Metrics auth
	srv.metricsAuth.enabled = getEnv("METRICS_USER", "") != ""
	srv.metricsAuth.user = getEnv("METRICS_USER", "")
	srv.metricsAuth.password = getEnv("METRICS_PASS", "")

	// Setup HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/forecast", srv.handleForecast)
	mux.HandleFunc("/v1/history", srv.handleHistory)
	mux.HandleFunc("/v1/items", srv.handleItems)
	mux.HandleFunc("/v1/stores", srv.handleStores)
	mux.Handle("/metrics", srv.metricsHandler())
	mux.HandleFunc("/health", srv.handleHealth)

	// HTTP server
	port := getEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdown
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Close resources
	if err := runLog.Close(); err != nil {
		log.Printf("Error closing run log: %v", err)
	}
	if err := resultStore.Close(); err != nil {
		log.Printf("Error closing result store: %v", err)
	}
	if tp != nil {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down tracing: %v", err)
		}
	}

	log.Println("Server stopped")
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Rate limiting
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "10")
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	var req forecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.ItemID == "" || req.StoreID == "" {
		http.Error(w, "item_id and store_id are required", http.StatusBadRequest)
		return
	}
	if req.ForecastDays == 0 {
		req.ForecastDays = 28
	}
	if err := s.params.ValidateHorizon(req.ForecastDays); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := api.SeriesKey{ItemID: req.ItemID, StoreID: req.StoreID}
	ctx, span := otel.StartSpan(r.Context(), "server", "forecast",
		otel.ForecastAttributes(req.ItemID, req.StoreID, s.forecaster.ModelVersion(), req.ForecastDays)...)
	defer span.End()

	start := time.Now()

	// Idempotent result check: the same series/horizon/model always
	// returns the first stored forecast until its TTL expires.
	cacheKey := results.Key(key.ID(), req.ForecastDays, s.forecaster.ModelVersion())
	if cached, err := s.resultStore.Get(ctx, cacheKey); err != nil {
		log.Printf("Result store error: %v", err)
	} else if cached != nil {
		s.metrics.ResultCacheHits.Inc()
		span.SetAttributes(otel.PerformanceAttributes(true, float64(time.Since(start).Milliseconds()))...)
		respondJSON(w, http.StatusOK, cached)
		return
	}

	// Fresh store per request: the history is mutated by the recursive
	// loop and must not leak predictions into the shared series cache.
	store := series.NewStore(s.histories, s.params.Windows)
	h, err := store.Load(ctx, key)
	if err != nil {
		s.respondError(w, span, err)
		return
	}
	s.metrics.HistoryLoads.Inc()

	fc, err := s.forecaster.Forecast(ctx, h, req.ForecastDays)
	if err != nil {
		s.respondError(w, span, err)
		return
	}

	if err := s.resultStore.Set(ctx, cacheKey, fc, s.params.ResultTTL); err != nil {
		log.Printf("Failed to store forecast result: %v", err)
		// Continue anyway - this is not fatal
	}
	if err := s.runLog.Append(fc, time.Since(start)); err != nil {
		log.Printf("Run log append error: %v", err)
		s.metrics.RunLogErrors.Inc()
	}

	span.SetAttributes(otel.PerformanceAttributes(false, float64(time.Since(start).Milliseconds()))...)
	respondJSON(w, http.StatusOK, fc)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	itemID := r.URL.Query().Get("item_id")
	storeID := r.URL.Query().Get("store_id")
	if itemID == "" || storeID == "" {
		http.Error(w, "item_id and store_id are required", http.StatusBadRequest)
		return
	}
	days := 28
	if d := r.URL.Query().Get("days"); d != "" {
		v, err := strconv.Atoi(d)
		if err != nil || v < 1 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = v
	}

	key := api.SeriesKey{ItemID: itemID, StoreID: storeID}
	ser, err := s.histories.Series(r.Context(), key)
	if err != nil {
		s.respondError(w, nil, err)
		return
	}

	obs := ser.Obs
	if len(obs) > days {
		obs = obs[len(obs)-days:]
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"key":          ser.Key,
		"observations": obs,
	})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.histories.Items(r.Context())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleStores(w http.ResponseWriter, r *http.Request) {
	stores, err := s.histories.Stores(r.Context())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"stores": stores})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"model_version": s.forecaster.ModelVersion(),
		"series_cache":  s.histories.CacheStats(),
	})
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.Handler()

	if !s.metricsAuth.enabled {
		return handler
	}

	// Wrap with Basic Auth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.metricsAuth.user || pass != s.metricsAuth.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

// respondError maps domain errors to HTTP statuses and records them.
func (s *Server) respondError(w http.ResponseWriter, span trace.Span, err error) {
	otel.RecordError(span, err, "")
	switch {
	case errors.Is(err, api.ErrUnknownSeries):
		s.metrics.ErrorsByKind.WithLabelValues("unknown_series").Inc()
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, api.ErrInvalidHorizon):
		s.metrics.ErrorsByKind.WithLabelValues("invalid_horizon").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, api.ErrInsufficientHistory):
		s.metrics.ErrorsByKind.WithLabelValues("insufficient_history").Inc()
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, api.ErrRegressorFailure):
		s.metrics.ErrorsByKind.WithLabelValues("regressor_failure").Inc()
		log.Printf("Regressor failure: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	default:
		s.metrics.ErrorsByKind.WithLabelValues("internal").Inc()
		log.Printf("Forecast error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
