// Entry point for the exam platform backend: chi HTTP server over the RAG
// chatroom pipeline, SQLite persistence and an optional MCP stdio surface.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"

	"github.com/akinoalice/examrag/api"
	"github.com/akinoalice/examrag/auth"
	"github.com/akinoalice/examrag/embedder"
	"github.com/akinoalice/examrag/rag"
	"github.com/akinoalice/examrag/store"
	"github.com/akinoalice/examrag/vectorstore"
)

func main() {
	// Best-effort .env load, same precedence as real environment variables.
	_ = godotenv.Load()

	port := env("PORT", "8080")
	dbPath := env("DB_PATH", "db/examrag.db")
	configPath := env("CONFIG_PATH", "")
	mcpTransport := env("MCP_TRANSPORT", "")

	secretInput := os.Getenv("JWT_SECRET")
	if secretInput == "" {
		slog.Error("JWT_SECRET is required")
		os.Exit(1)
	}
	// Derive a fixed 32-byte secret so any passphrase length is accepted.
	secretHash := sha256.Sum256([]byte(secretInput))
	jwtSecret := secretHash[:]

	// Logging.
	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Persistence.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("db dir", "error", err)
			os.Exit(1)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	st, err := store.New(db)
	if err != nil {
		slog.Error("init store", "error", err)
		os.Exit(1)
	}
	if err := seedAdmin(ctx, st); err != nil {
		slog.Error("seed admin", "error", err)
		os.Exit(1)
	}

	// Embedding backend. Fail fast on missing credentials.
	embMode, err := embedder.ParseDeployMode(env("EMBEDDING_DEPLOY_MODE", env("LLM_DEPLOY_MODE", "none")))
	if err != nil {
		slog.Error("embedding deploy mode", "error", err)
		os.Exit(1)
	}
	embCfg := embedder.ConfigFromEnv()
	embCfg.Logger = logger
	emb, err := embedder.New(embMode, embCfg)
	if err != nil {
		slog.Error("embedder", "error", err)
		os.Exit(1)
	}

	// Vector store: dedicated Qdrant if configured, brute-force SQLite otherwise.
	var (
		searcher vectorstore.Searcher
		upserter vectorstore.Upserter
	)
	switch cfg.VectorStore.Backend {
	case "qdrant":
		qdrant, err := vectorstore.NewQdrant(vectorstore.QdrantConfig{
			URL:    cfg.VectorStore.Qdrant.URL,
			APIKey: cfg.VectorStore.Qdrant.APIKey,
			Dim:    emb.Dim(),
		})
		if err != nil {
			slog.Error("qdrant vector store", "error", err)
			os.Exit(1)
		}
		if err := qdrant.EnsureCollection(ctx, "default"); err != nil {
			slog.Error("qdrant ensure collection", "error", err)
			os.Exit(1)
		}
		searcher, upserter = qdrant, qdrant
		slog.Info("vector store ready", "backend", "qdrant", "url", cfg.VectorStore.Qdrant.URL)
	case "", "sqlite":
		sqliteStore, err := vectorstore.NewSQLite(db)
		if err != nil {
			slog.Error("sqlite vector store", "error", err)
			os.Exit(1)
		}
		searcher, upserter = sqliteStore, sqliteStore
		slog.Info("vector store ready", "backend", "sqlite")
	default:
		slog.Error("unknown vector store backend", "backend", cfg.VectorStore.Backend)
		os.Exit(1)
	}

	// Response orchestrator from LLM_DEPLOY_MODE.
	orch, err := rag.NewOrchestrator(logger)
	if err != nil {
		slog.Error("orchestrator", "error", err)
		os.Exit(1)
	}

	svc := api.New(logger, st, emb, searcher, upserter, orch, jwtSecret)

	r := chi.NewRouter()
	svc.RegisterHTTP(r)

	// Optional MCP stdio surface for agent clients.
	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "examrag",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			slog.Info("MCP stdio starting")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("MCP stdio", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// config is the optional YAML file behind CONFIG_PATH. Everything has a
// working default; the file only tunes the vector store.
type config struct {
	VectorStore struct {
		Backend string `yaml:"backend"`
		Qdrant  struct {
			URL    string `yaml:"url"`
			APIKey string `yaml:"api_key"`
		} `yaml:"qdrant"`
	} `yaml:"vector_store"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// seedAdmin creates the initial admin account when none exists yet.
func seedAdmin(ctx context.Context, st *store.Store) error {
	if _, err := st.UserByUsername(ctx, "admin"); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	hash, err := auth.HashPassword(env("ADMIN_PASSWORD", "admin123!!!"))
	if err != nil {
		return err
	}
	id, err := st.CreateUser(ctx, "admin", hash, "admin")
	if err != nil {
		return err
	}
	slog.Info("admin user seeded", "user_id", id)
	return nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
