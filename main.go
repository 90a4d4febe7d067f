package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/artifact"
	"github.com/hashwanthgogineni/gamora-ai/modules/auth"
	"github.com/hashwanthgogineni/gamora-ai/modules/classifier"
	"github.com/hashwanthgogineni/gamora-ai/modules/cleanup"
	"github.com/hashwanthgogineni/gamora-ai/modules/codegen"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/config"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/database"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/gemini"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/logger"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/metrics"
	redisClient "github.com/hashwanthgogineni/gamora-ai/modules/common/redis"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/storage"
	"github.com/hashwanthgogineni/gamora-ai/modules/generate"
	"github.com/hashwanthgogineni/gamora-ai/modules/pipeline"
	"github.com/hashwanthgogineni/gamora-ai/modules/progress"
	"github.com/hashwanthgogineni/gamora-ai/modules/worker"
)

// CORS 헤더 추가
func enableCORS(origins []string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := allowOrigin(origins, r.Header.Get("Origin")); origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allowOrigin(origins []string, origin string) string {
	for _, allowed := range origins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

// 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "gamora-game-generation",
	})
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("❌ Failed to load config: %v", err)
	}
	if err := logger.Init(cfg); err != nil {
		logrus.Fatalf("❌ Failed to configure logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence / Storage
	gw, closeDB, err := database.New(ctx, cfg)
	if err != nil {
		logrus.Fatalf("❌ Failed to initialize persistence: %v", err)
	}
	defer closeDB()

	store, err := storage.New(cfg)
	if err != nil {
		logrus.Fatalf("❌ Failed to initialize storage: %v", err)
	}

	// Redis 연결
	rdb, err := redisClient.Connect(cfg)
	if err != nil {
		logrus.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	// Gemini
	ai, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, gemini.OptionsFromConfig(cfg))
	if err != nil {
		logrus.Fatalf("❌ Failed to create Gemini client: %v", err)
	}

	// 파이프라인 구성
	hub := progress.NewHub(progress.DefaultBuffer)
	statusCache := redisClient.NewStatusCache(rdb)
	pipe := pipeline.New(
		gw,
		classifier.New(ai, cfg.GeminiClassifierModel, cfg.MaxPromptLength),
		codegen.New(ai, cfg.GeminiModel, cfg.AITemperature, cfg.AIMaxOutputTokens),
		artifact.NewAssembler(store, cfg.ProjectsDir),
		hub,
		pipeline.OptionsFromConfig(cfg),
	).WithStatusCache(statusCache)

	// Redis Queue Worker 시작 (백그라운드)
	w := worker.New(rdb, cfg.QueueName, pipe, cfg.WorkerConcurrency)
	go w.Start(ctx)

	// 정리 루틴 시작
	cleaner := cleanup.New(gw, pipe, cleanup.OptionsFromConfig(cfg))
	if err := cleaner.Start(); err != nil {
		logrus.Fatalf("❌ Failed to start cleanup: %v", err)
	}

	// 라우터 설정
	r := mux.NewRouter()
	r.Use(enableCORS(cfg.AllowedOrigins))

	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/metrics", metrics.Default.Handler).Methods("GET")

	handler := generate.NewHandler(generate.Deps{
		Pipeline:       pipe,
		Gateway:        gw,
		Store:          store,
		Hub:            hub,
		Redis:          rdb,
		Queue:          cfg.QueueName,
		Limiter:        redisClient.NewRateLimiter(rdb, cfg.GenerationsPerHour, time.Hour),
		Cache:          statusCache,
		Auth:           auth.NewVerifier(cfg.SupabaseJWTSecret, cfg.AuthRequired),
		AllowedOrigins: cfg.AllowedOrigins,
	})
	handler.RegisterRoutes(r)

	// 로컬 스토리지는 /files 로 직접 서빙
	if local, ok := store.(*storage.LocalStore); ok {
		r.PathPrefix("/files/").Handler(http.StripPrefix("/files/", http.FileServer(http.Dir(local.Root()))))
		logrus.Infof("📁 Serving local builds from %s at /files/", local.Root())
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.Infof("🚀 Gamora generation server starting on port %s", cfg.Port)
	logrus.Infof("🎮 Generate endpoint: http://localhost:%s/api/v1/generate/game", cfg.Port)
	logrus.Infof("📡 WebSocket endpoint: ws://localhost:%s/api/v1/generate/ws/{project_id}", cfg.Port)
	logrus.Infof("❤️  Health check: http://localhost:%s/health", cfg.Port)
	logrus.Infof("📊 Metrics: http://localhost:%s/metrics", cfg.Port)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Warnf("⚠️  HTTP shutdown: %v", err)
	}
	cleaner.Stop()
	// 진행 중인 생성은 끝까지 실행 (각 실행은 PIPELINE_TIMEOUT 으로 제한)
	w.Wait()
	logrus.Info("👋 Server stopped")
}
