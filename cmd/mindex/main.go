// Command mindex serves a file-backed markdown knowledge base with scheduled
// web-push notifications declared inline in documents.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	colorable "github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/mindexlab/mindex/internal/push"
	"github.com/mindexlab/mindex/internal/server"
	"github.com/mindexlab/mindex/internal/server/handlers"
	"github.com/mindexlab/mindex/internal/storage"
)

const version = "0.1.0"

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "mindex: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	httpAddr := flag.String("http", ":8080", "HTTP listen address")
	dataDir := flag.String("data-dir", "./data", "Data directory (documents live in docs/, settings in .env)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	password := flag.String("password", "", "Shared password protecting the API (empty = open)")
	gitEnabled := flag.Bool("git", true, "Version the document root with git")
	initVAPID := flag.Bool("init-vapid", false, "Generate VAPID keys, store them in .env and exit")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	ll := &slog.LevelVar{}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if v, ok := a.Value.Any().(string); ok && v == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	env, err := loadDotEnv(*dataDir)
	if err != nil {
		return err
	}

	// Flags take precedence; unset flags fall back to .env values.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if !set["http"] {
		if v := env["HTTP"]; v != "" {
			*httpAddr = v
		}
	}
	if !set["log-level"] {
		if v := env["LOG_LEVEL"]; v != "" {
			*logLevel = v
		}
	}
	if !set["password"] {
		if v := env["PASSWORD"]; v != "" {
			*password = v
		}
	}
	if !set["git"] {
		if v := env["GIT"]; v != "" {
			enabled, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid GIT value in .env: %q", v)
			}
			*gitEnabled = enabled
		}
	}
	ll.Set(parseLevel(*logLevel))

	if *initVAPID {
		return generateVAPID(*dataDir, env)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewFileStore(filepath.Join(*dataDir, "docs"))
	if err != nil {
		return fmt.Errorf("failed to initialize file store: %w", err)
	}

	var gitSvc *storage.GitService
	if *gitEnabled {
		gitSvc, err = storage.NewGitService(store.RootDir())
		if err != nil {
			return fmt.Errorf("failed to initialize git: %w", err)
		}
	}

	keys := push.VAPIDKeys{
		Public:  env["VAPID_PUBLIC_KEY"],
		Private: env["VAPID_PRIVATE_KEY"],
		Subject: env["VAPID_SUBJECT"],
	}
	var sender push.Sender
	if keys.Public != "" && keys.Private != "" {
		sender = push.NewWebPushSender(keys)
		slog.Info("web push enabled")
	} else {
		sender = &push.LogSender{Log: logger}
		slog.Warn("no VAPID keys configured, notifications will be logged only (run -init-vapid)")
	}

	pushSvc := push.NewService(sender, nil, logger)
	defer pushSvc.Close()

	docs, err := store.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to scan documents: %w", err)
	}
	pushSvc.Load(toPushDocs(docs))
	slog.Info("documents loaded", "count", len(docs))

	// Out-of-band edits go through the same reload path as API saves.
	go func() {
		err := storage.WatchRoot(ctx, store, logger,
			func(doc storage.Document) { pushSvc.ApplyDocument(doc.ID, doc.Content) },
			func(docID string) { pushSvc.RemoveDocument(docID) })
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("document watcher stopped", "err", err)
		}
	}()

	jwtSecret, err := sessionSecret(*dataDir, env, *password)
	if err != nil {
		return err
	}

	svc := &handlers.Services{
		Store:  store,
		Search: storage.NewSearchService(store),
		Git:    gitSvc,
		Push:   pushSvc,
	}
	cfg := server.Config{
		Password:       *password,
		JWTSecret:      jwtSecret,
		VAPIDPublicKey: keys.Public,
		Version:        version,
	}
	httpServer := &http.Server{
		Addr:        *httpAddr,
		Handler:     server.NewRouter(svc, cfg),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", *httpAddr)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.Info("server stopped")
	}
	return nil
}

func toPushDocs(docs []storage.Document) []push.Document {
	out := make([]push.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, push.Document{ID: d.ID, Text: d.Content})
	}
	return out
}

// generateVAPID creates a fresh key pair and persists it to .env, refusing to
// overwrite existing keys.
func generateVAPID(dataDir string, env map[string]string) error {
	if env["VAPID_PUBLIC_KEY"] != "" || env["VAPID_PRIVATE_KEY"] != "" {
		return errors.New("VAPID keys already present in .env, remove them first to regenerate")
	}
	keys, err := push.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	env["VAPID_PUBLIC_KEY"] = keys.Public
	env["VAPID_PRIVATE_KEY"] = keys.Private
	if env["VAPID_SUBJECT"] == "" {
		env["VAPID_SUBJECT"] = "mailto:admin@localhost"
	}
	if err := saveDotEnv(dataDir, env); err != nil {
		return err
	}
	fmt.Printf("VAPID keys written to %s\npublic key: %s\n", filepath.Join(dataDir, ".env"), keys.Public)
	return nil
}

// sessionSecret returns the JWT signing secret, generating and persisting one
// on first authenticated start so sessions survive restarts.
func sessionSecret(dataDir string, env map[string]string, password string) ([]byte, error) {
	if v := env["JWT_SECRET"]; v != "" {
		return []byte(v), nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}
	secret := hex.EncodeToString(buf)
	if password != "" {
		env["JWT_SECRET"] = secret
		if err := saveDotEnv(dataDir, env); err != nil {
			return nil, err
		}
	}
	return []byte(secret), nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadDotEnv(dataDir string) (map[string]string, error) {
	env := make(map[string]string)
	envContent, err := os.ReadFile(filepath.Join(dataDir, ".env"))
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil
		}
		return nil, err
	}

	for line := range strings.SplitSeq(string(envContent), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if strings.HasPrefix(val, "\"") {
			unquoted, err := strconv.Unquote(val)
			if err != nil {
				return nil, fmt.Errorf("failed to unquote %s: %w", key, err)
			}
			val = unquoted
		}
		env[key] = val
	}
	return env, nil
}

func saveDotEnv(dataDir string, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k, v := range env {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, env[k])
	}
	return os.WriteFile(filepath.Join(dataDir, ".env"), []byte(b.String()), 0o600)
}
