package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
)

const httpShutdownTimeout = 5 * time.Second

var probePaths = map[string]bool{"/metrics": true, "/healthz": true, "/livez": true, "/readyz": true}

// newHTTPRouter собирает служебные маршруты и дополнительные (вебхук шлюза).
func newHTTPRouter(logger *log.Entry, healthHandler *healthcheck.Handler, routes ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, accessLog(logger), middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/healthz", healthHandler)
	r.Get("/livez", healthcheck.LivenessHandler)
	r.Get("/readyz", healthHandler.ReadinessHandler)

	for _, register := range routes {
		register(r)
	}
	return r
}

// accessLog пишет строку на запрос; пробы и /metrics идут на уровне debug.
func accessLog(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			level := log.InfoLevel
			if probePaths[r.URL.Path] {
				level = log.DebugLevel
			}
			logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
				"remote_ip":   r.RemoteAddr,
			}).Log(level, "http request")
		})
	}
}

// opsServer — HTTP-листенер с метриками, пробами и вебхуком шлюза.
type opsServer struct {
	srv    *http.Server
	ln     net.Listener
	logger *log.Entry
}

// listenOps занимает адрес сразу, чтобы занятый порт останавливал запуск, и начинает обслуживание.
func listenOps(addr string, handler http.Handler, logger *log.Entry) (*opsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &opsServer{
		srv:    &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger,
	}
	go func() {
		logger.WithField("addr", s.Addr()).Info("http listener started: /metrics, /healthz, /livez, /readyz")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http listener failed")
		}
	}()
	return s, nil
}

func (s *opsServer) Addr() string { return s.ln.Addr().String() }

// shutdown дожидается активных запросов не дольше httpShutdownTimeout. Повторный вызов безопасен.
func (s *opsServer) shutdown() {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.WithError(err).Warn("http listener shutdown")
	}
}
