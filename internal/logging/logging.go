// Package logging sets up the process-wide zap logger.
package logging

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger for env and installs it as the zap global, so
// packages can log through zap.S().
func New(env string) (*zap.SugaredLogger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "production" {
		logger, err = zap.NewProduction()
	} else {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err = cfg.Build()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger.Sugar(), nil
}

// RequestLogger writes one access log line per request.
func RequestLogger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				fields := []interface{}{
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"latency", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				}
				switch {
				case ww.Status() >= http.StatusInternalServerError:
					log.Errorw("request", fields...)
				case ww.Status() >= http.StatusBadRequest:
					log.Warnw("request", fields...)
				default:
					log.Infow("request", fields...)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
