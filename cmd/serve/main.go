package main

import (
	"flag"
	"log"
	gohttp "net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bathyreq/go-bathyreq/bathyreq"
	bathyhttp "github.com/bathyreq/go-bathyreq/http"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loggingMiddleware(logger *log.Logger) func(gohttp.Handler) gohttp.Handler {
	return func(next gohttp.Handler) gohttp.Handler {
		return gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
			defer func() {
				logger.Println(r.Method, r.URL.Path, r.RemoteAddr, r.UserAgent())
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func main() {
	addr := flag.String("listen", envOrDefault("BATHY_LISTEN", ":8080"), "The address and port to listen on")
	sourceStr := flag.String("source", "ncei", "Data source to proxy. Options are ncei, gebco.")
	cachePath := flag.String("cache", "", "Path to a sqlite raster cache. Empty disables caching.")
	requestTimeout := flag.Int("timeout", 60, "Upstream HTTP timeout in seconds.")
	flag.Parse()

	logger := log.New(os.Stdout, "http: ", log.LstdFlags)

	var cache bathyreq.Cache
	if *cachePath != "" {
		var err error
		cache, err = bathyreq.NewSqliteCache(*cachePath)
		if err != nil {
			logger.Fatalf("Couldn't open raster cache: %+v", err)
		}
		defer cache.Close()
	}

	registry := prometheus.NewRegistry()
	metrics := bathyreq.NewMetrics(registry)

	client := bathyreq.NewClient(&bathyreq.ClientOptions{
		Source:  bathyreq.SourceID(*sourceStr),
		Timeout: time.Duration(*requestTimeout) * time.Second,
		Cache:   cache,
		Metrics: metrics,
	})

	router := gohttp.NewServeMux()
	router.Handle("/bathy/", bathyhttp.BathyHandler(client, nil))
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/", func(w gohttp.ResponseWriter, r *gohttp.Request) {
		gohttp.NotFound(w, r)
	})

	server := &gohttp.Server{
		Addr:         *addr,
		Handler:      loggingMiddleware(logger)(router),
		ErrorLog:     logger,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != gohttp.ErrServerClosed {
		logger.Fatalf("Could not listen on %s: %v\n", *addr, err)
	}
}
