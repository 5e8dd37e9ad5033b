package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinela-gateway/middleware/abuse"
	"sentinela-gateway/middleware/abuse/infra"
	"sentinela-gateway/middleware/abuse/policy"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

// Exemplo: embutindo o gatekeeper direto no webserver (sem proxy), com as
// rotas no formato do backend de notícias. Os handlers são stubs; o
// interesse aqui é o comportamento do middleware.
func main() {
	_ = godotenv.Load()
	logger := log.New(os.Stderr, "example: ", log.LstdFlags)

	table := policy.Default()
	memStats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))
	stack := abuse.NewStack(table,
		abuse.WithStackStats(memStats),
		abuse.WithStackLogger(logger),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	stack.StartJanitors(ctx)

	keyFn := abuse.DefaultKeyFunc("", true)

	r := chi.NewRouter()

	r.Route("/api/auth", func(r chi.Router) {
		r.With(stack.Middleware(policy.ClassAuth, keyFn)).Post("/login", loginHandler)
		r.With(stack.Middleware(policy.ClassSession, keyFn)).Get("/me", meHandler)
	})
	r.With(stack.Middleware(policy.ClassAPI, keyFn)).Get("/api/articles", articlesHandler)
	r.With(stack.Middleware(policy.ClassStrict, keyFn)).Delete("/api/admin/articles/{id}", adminDeleteHandler)

	r.Method(http.MethodGet, "/internal/abuse/stats", abuse.StatsHandler(stack.Patterns, memStats))

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("example server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func loginHandler(w http.ResponseWriter, r *http.Request) {
	// stub: qualquer credencial com o header X-Demo-Pass passa
	if r.Header.Get("X-Demo-Pass") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false, "message": "credenciais inválidas",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": "demo"})
}

func meHandler(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false, "message": "sessão ausente",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "user": map[string]string{"name": "leitor", "role": "reader"},
	})
}

func articlesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"items": []map[string]string{
			{"slug": "titulo-de-exemplo", "title": "Título de exemplo"},
		},
	})
}

func adminDeleteHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "deleted": chi.URLParam(r, "id"),
	})
}
