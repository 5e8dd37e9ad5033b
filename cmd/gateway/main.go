package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"sentinela-gateway/middleware/abuse"
	"sentinela-gateway/middleware/abuse/application"
	"sentinela-gateway/middleware/abuse/domain"
	"sentinela-gateway/middleware/abuse/infra"
	"sentinela-gateway/middleware/abuse/policy"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	logger := log.New(os.Stderr, "gateway: ", log.LstdFlags)

	cfg, err := readConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	table := policy.Default()
	if cfg.policyFile != "" {
		table, err = policy.Load(cfg.policyFile)
		if err != nil {
			logger.Fatalf("policy error: %v", err)
		}
	}
	applyEnvOverrides(&table)
	if err := table.Validate(); err != nil {
		logger.Fatalf("policy error: %v", err)
	}

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		logger.Fatalf("invalid UPSTREAM_URL: %v", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Printf("proxy error: %v", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	memStats := infra.NewMemoryStatsStore()
	var statsStore domain.StatsStore = memStats
	if cfg.statsRedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.statsRedisAddr,
			Password: cfg.statsRedisPassword,
			DB:       cfg.statsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			logger.Fatalf("redis stats ping error: %v", err)
		}

		statsStore = teeStats{memStats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsTrackKeys(cfg.statsTrackKeys),
		)}
	}

	stack := abuse.NewStack(table,
		abuse.WithStackStats(statsStore),
		abuse.WithStackLogger(logger),
	)

	keyFn := abuse.DefaultKeyFunc(cfg.keyHeader, cfg.trustXFF)
	if cfg.signatureFragment > 0 {
		keyFn = abuse.WithSignature(keyFn, cfg.signatureFragment)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	stack.StartJanitors(ctx)

	bucket := infra.NewBucketStore(cfg.backstopRPS, cfg.backstopBurst)
	bucket.StartJanitor(ctx)

	r := chi.NewRouter()
	registerRoutes(r, table, stack, keyFn, proxy)
	r.Method(http.MethodGet, "/internal/abuse/stats", abuse.StatsHandler(stack.Patterns, memStats))

	h := http.Handler(r)
	h = abuse.Middleware(abuse.Options{
		KeyFn: keyFn,
		Limiters: []domain.Admission{
			&application.BackstopLimiter{Store: bucket, RetryAfter: cfg.backstopRetry},
		},
		Logger: logger,
		// sem Stats aqui: o tier interno já registra cada decisão
	})(h)
	h = abuse.ConcurrencyMiddleware(abuse.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.concurrencyTimeout,
	})(h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("gateway listening on %s -> %s", cfg.listenAddr, target)
	logger.Printf("policy: %d classes, %d rotas, loop detector burst=%s block=%s",
		len(table.Classes), len(table.Routes),
		table.LoopDetector.Burst.D(), table.LoopDetector.BlockDuration.D())
	logger.Printf("backstop: rps=%.3f burst=%d; concurrency: max=%d timeout=%s",
		cfg.backstopRPS, cfg.backstopBurst, cfg.concurrencyMax, cfg.concurrencyTimeout)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server error: %v", err)
	}
}

// registerRoutes monta um gatekeeper por regra da tabela (a resolução
// classe->limiter acontece aqui, no registro) e o catch-all na classe geral.
func registerRoutes(r chi.Router, table policy.Table, stack *abuse.Stack, keyFn abuse.KeyFunc, upstream http.Handler) {
	for _, rule := range table.Routes {
		mw := stack.Middleware(rule.Class, keyFn)
		r.Handle(rule.Prefix, mw(upstream))
		r.Handle(strings.TrimSuffix(rule.Prefix, "/")+"/*", mw(upstream))
	}
	catchAll := stack.Middleware(policy.ClassAPI, keyFn)(upstream)
	r.NotFound(catchAll.ServeHTTP)
}

// teeStats grava em dois destinos; o segundo é best-effort.
type teeStats struct {
	primary   domain.StatsStore
	secondary domain.StatsStore
}

func (t teeStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	err := t.primary.Record(ctx, ev)
	_ = t.secondary.Record(ctx, ev)
	return err
}

type config struct {
	listenAddr  string
	upstreamURL string
	policyFile  string

	keyHeader         string
	trustXFF          bool
	signatureFragment int

	backstopRPS   float64
	backstopBurst int
	backstopRetry time.Duration

	concurrencyMax     int
	concurrencyTimeout time.Duration

	statsRedisAddr     string
	statsRedisPassword string
	statsRedisDB       int
	statsPrefix        string
	statsTTL           time.Duration
	statsTrackKeys     bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.policyFile = os.Getenv("POLICY_FILE")

	cfg.keyHeader = os.Getenv("KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.signatureFragment = getenvIntDefault("SIGNATURE_FRAGMENT", 0)

	cfg.backstopRPS = getenvFloatDefault("BACKSTOP_RPS", 50)
	cfg.backstopBurst = getenvIntDefault("BACKSTOP_BURST", 100)
	cfg.backstopRetry = getenvDurationDefault("BACKSTOP_RETRY_AFTER", 1*time.Second)

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	cfg.statsRedisAddr = os.Getenv("STATS_REDIS_ADDR")
	cfg.statsRedisPassword = os.Getenv("STATS_REDIS_PASSWORD")
	cfg.statsRedisDB = getenvIntDefault("STATS_REDIS_DB", 0)
	cfg.statsPrefix = getenvDefault("STATS_PREFIX", "abuse:stats")
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	cfg.statsTrackKeys = getenvBoolDefault("STATS_TRACK_KEYS", false)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.backstopRPS <= 0 {
		return config{}, errors.New("BACKSTOP_RPS must be > 0")
	}
	if cfg.backstopBurst <= 0 {
		return config{}, errors.New("BACKSTOP_BURST must be > 0")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

// applyEnvOverrides deixa os limiares principais ajustáveis por ambiente,
// por cima do arquivo de política.
func applyEnvOverrides(t *policy.Table) {
	overrideDetector := func(prefix string, det *policy.Detector) {
		if d, ok := getenvDuration(prefix + "_BURST"); ok {
			det.Burst = policy.Duration(d)
		}
		if d, ok := getenvDuration(prefix + "_COOLDOWN"); ok {
			det.CoolDown = policy.Duration(d)
		}
		if v, ok := getenvInt(prefix + "_ESCALATION_LIMIT"); ok {
			det.EscalationLimit = v
		}
		if d, ok := getenvDuration(prefix + "_BLOCK"); ok {
			det.BlockDuration = policy.Duration(d)
		}
	}
	overrideDetector("DETECTOR", &t.Detector)
	overrideDetector("LOOP", &t.LoopDetector)

	if d, ok := getenvDuration("SWEEP_EVERY"); ok {
		t.SweepEvery = policy.Duration(d)
	}
	if d, ok := getenvDuration("RETENTION"); ok {
		t.Retention = policy.Duration(d)
	}
	if v, ok := getenvInt("HINT_THRESHOLD"); ok {
		t.HintThreshold = v
	}

	for class, envPrefix := range map[policy.Class]string{
		policy.ClassAuth:    "AUTH",
		policy.ClassSession: "SESSION",
		policy.ClassAPI:     "API",
		policy.ClassStrict:  "STRICT",
	} {
		w := t.Classes[class]
		changed := false
		if d, ok := getenvDuration(envPrefix + "_WINDOW"); ok {
			w.Window = policy.Duration(d)
			changed = true
		}
		if v, ok := getenvInt(envPrefix + "_LIMIT"); ok {
			w.Limit = v
			changed = true
		}
		if changed {
			t.Classes[class] = w
		}
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	if v, ok := getenvInt(k); ok {
		return v
	}
	return def
}

func getenvInt(k string) (int, bool) {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	if d, ok := getenvDuration(k); ok {
		return d
	}
	return def
}

func getenvDuration(k string) (time.Duration, bool) {
	v := os.Getenv(k)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
