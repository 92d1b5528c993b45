package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/twpayne/go-srtm"
)

type elevationResponse struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Elevation *float64 `json:"elevation"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newServeCmd(cfg *config) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve elevations over HTTP",
		Long: `Serve elevations over HTTP.

Endpoints:
  GET /elevation?lat=...&lon=...  elevation in meters, null for no data
  GET /healthz                     liveness check
  GET /metrics                     Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := getConfigString(cmd, "addr", "ADDR", ":8080")
			provider, err := cfg.newProvider()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, addr, newRouter(provider, cfg.logger), cfg.logger)
		},
	}
	serveCmd.Flags().StringP("addr", "a", ":8080", "address to listen on ($ADDR)")
	return serveCmd
}

func newRouter(provider *srtm.Provider, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/elevation", elevationHandler(provider, logger))
	return r
}

func elevationHandler(provider *srtm.Provider, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid lat"})
			return
		}
		lon, err := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid lon"})
			return
		}

		switch elevation, err := provider.Elevation(r.Context(), lat, lon); {
		case errors.Is(err, srtm.ErrOutOfRange):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case errors.Is(err, srtm.ErrFetchFailed):
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		case errors.Is(err, context.Canceled):
		case err != nil:
			logger.Error().Err(err).Float64("lat", lat).Float64("lon", lon).Msg("elevation")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		default:
			response := elevationResponse{
				Lat: lat,
				Lon: lon,
			}
			if !srtm.IsNoData(elevation) {
				response.Elevation = &elevation
			}
			writeJSON(w, http.StatusOK, response)
		}
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

// runServer serves handler on addr until ctx is done.
func runServer(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
