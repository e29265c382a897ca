package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"amplifi/internal/cache"
	"amplifi/internal/common"
	"amplifi/internal/metrics"
	"amplifi/internal/realtime"
	"amplifi/internal/wire"
)

func setupRouter(app *wire.Application) *mux.Router {
	router := mux.NewRouter()

	router.Use(corsMiddleware)
	router.Use(loggingMiddleware)
	router.Use(metrics.Middleware)

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	if app.Media != nil {
		app.Media.Register(router)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)
	api.HandleFunc("/ws", realtime.ServeWS(app.Hub, app.Tokens))

	limited := api.NewRoute().Subrouter()
	if app.Limiter != nil && app.Config.Server.RateLimit > 0 {
		limited.Use(cache.RateLimit(app.Limiter))
	}
	for _, routes := range app.Routes {
		routes.Register(limited, app.Auth)
	}

	// preflight requests never match a route method
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Stripe-Signature")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := metrics.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)
		common.Log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.Status(),
			"duration": time.Since(start),
		}).Debug("request")
	})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	common.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "Amplifi API",
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
