package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mnehpets/onerpc/config"
	"github.com/mnehpets/onerpc/endpoint"
	"github.com/mnehpets/onerpc/jsonrpc"
	"github.com/mnehpets/onerpc/middleware"
)

// App is the application context shared by every handler.
type App struct {
	Started time.Time
	Calls   atomic.Int64
}

type AddParams struct {
	A int `json:"a" jsonschema:"description=First addend"`
	B int `json:"b" jsonschema:"description=Second addend"`
}

type GreetParams struct {
	Name     string `json:"name"`
	Greeting string `json:"greeting,omitempty"`
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load(os.Getenv("ONERPC_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}
	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(logger)

	opts := cfg.EndpointOptions(logger)
	opts.EnableIntrospection = true
	app := &App{Started: time.Now()}
	e := jsonrpc.NewEndpoint(app, &opts)

	must(e.AddMethod("add", jsonrpc.Func[*App](func(_ context.Context, p AddParams) (int, error) {
		return p.A + p.B, nil
	}), jsonrpc.MethodConfig{
		Description:  "Adds two integers",
		Schema:       jsonrpc.SchemaFor[AddParams](),
		ExposeSchema: true,
	}))
	must(e.AddMethod("divide", jsonrpc.Func[*App](func(_ context.Context, p struct {
		A float64 `json:"a"`
		B float64 `json:"b"`
	}) (float64, error) {
		if p.B == 0 {
			return 0, jsonrpc.NewServerError(-32001, "Division by zero")
		}
		return p.A / p.B, nil
	}), jsonrpc.MethodConfig{Description: "Divides a by b"}))
	must(e.AddMethod("greet", jsonrpc.Func[*App](func(_ context.Context, p GreetParams) (string, error) {
		greeting := p.Greeting
		if greeting == "" {
			greeting = "Hello"
		}
		return greeting + ", " + p.Name + "!", nil
	}), jsonrpc.MethodConfig{
		Description:  "Greets someone",
		Schema:       jsonrpc.SchemaFor[GreetParams](),
		ExposeSchema: true,
	}))
	must(e.AddMethod("stats", jsonrpc.FuncWithContext[*App](func(_ context.Context, _ struct{}, app *App) (map[string]interface{}, error) {
		return map[string]interface{}{
			"uptime": time.Since(app.Started).Round(time.Second).String(),
			"calls":  app.Calls.Load(),
		}, nil
	})))

	must(e.Use(jsonrpc.BeforeFunc[*App](func(_ context.Context, req *jsonrpc.Request, app *App) error {
		app.Calls.Add(1)
		if strings.HasPrefix(req.Method, "internal.") {
			return jsonrpc.NewServerError(-32003, "Forbidden")
		}
		return nil
	}), jsonrpc.PhaseBefore))
	must(e.Use(jsonrpc.AfterFunc[*App](func(ctx context.Context, req *jsonrpc.Request, _ interface{}, _ *App) error {
		logger.DebugContext(ctx, "rpc.completed", "method", req.Method)
		return nil
	}), jsonrpc.PhaseAfter))

	var security *middleware.SecurityHeadersProcessor
	if len(cfg.HTTP.CORSOrigins) > 0 {
		security = middleware.NewSecurityHeadersProcessor(middleware.WithCORS(middleware.RPCCORSConfig(cfg.HTTP.CORSOrigins...)))
	} else {
		security = middleware.NewSecurityHeadersProcessor()
	}
	handler := e.HTTPHandler(cfg.HTTPOptions(
		middleware.NewAccessLogProcessor(logger),
		security,
	))

	mux := http.NewServeMux()
	mux.Handle(cfg.HTTP.Path, handler)
	mux.HandleFunc("GET /healthz", endpoint.HandleFunc(func(http.ResponseWriter, *http.Request, struct{}) (endpoint.Renderer, error) {
		return &endpoint.BytesRenderer{ContentType: "text/plain", Body: []byte("ok\n")}, nil
	}))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server.shutdown_failed", "error", err)
		}
	}()

	logger.Info("server.starting", "addr", cfg.HTTP.Addr, "path", cfg.HTTP.Path, "methods", e.ListMethods(), "safe_mode", e.SafeMode())
	log.Printf("Try: curl -s -X POST http://localhost%s%s -d '{\"jsonrpc\":\"2.0\",\"method\":\"add\",\"params\":{\"a\":2,\"b\":3},\"id\":1}'", cfg.HTTP.Addr, cfg.HTTP.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
