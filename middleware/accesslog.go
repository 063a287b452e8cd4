package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mnehpets/onerpc/endpoint"
)

// AccessLogProcessor logs one record per HTTP request once the rest of the
// chain has run. The record is logged with the request context, so request
// data attached by later processors is not visible; place it after the
// processors that decorate the context.
type AccessLogProcessor struct {
	Logger *slog.Logger
}

// NewAccessLogProcessor creates an AccessLogProcessor. A nil logger uses
// slog.Default().
func NewAccessLogProcessor(logger *slog.Logger) *AccessLogProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessLogProcessor{Logger: logger}
}

func (p *AccessLogProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}
	err := next(sw, r)

	status := sw.status
	if err != nil {
		status = http.StatusInternalServerError
		var ee *endpoint.EndpointError
		if errors.As(err, &ee) && ee.Status >= 100 {
			status = ee.Status
		}
	}
	if status == 0 {
		status = http.StatusOK
	}

	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelError
	} else if status >= 400 {
		level = slog.LevelWarn
	}
	p.Logger.Log(r.Context(), level, "http.request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Int("bytes", sw.bytes),
		slog.Duration("duration", time.Since(start)),
	)
	return err
}

// statusWriter records the status and body size written downstream.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

var _ endpoint.Processor = (*AccessLogProcessor)(nil)
