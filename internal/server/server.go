// Package server implements the heightmap HTTP API.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/twpayne/go-heightmap"
	"github.com/twpayne/go-heightmap/internal/geocode"
	"github.com/twpayne/go-heightmap/internal/opentopo"
	"github.com/twpayne/go-heightmap/internal/storage"
)

// A Geocoder resolves place names to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, location string) (*geocode.Result, error)
}

// A DEMDownloader downloads DEMs.
type DEMDownloader interface {
	Download(ctx context.Context, req opentopo.Request, save func(io.Reader) (int64, error)) (int64, error)
}

// A Hub is an automation hub.
type Hub interface {
	Chat(ctx context.Context, userID, message string, chatContext map[string]any) (json.RawMessage, error)
	FetchData(ctx context.Context, dataType string, parameters map[string]any) (json.RawMessage, error)
	Healthy(ctx context.Context) bool
}

// A Server serves the heightmap HTTP API.
type Server struct {
	store                    *storage.Store
	source                   heightmap.RasterSource
	geocoder                 Geocoder
	downloader               DEMDownloader
	hub                      Hub
	logger                   *zap.Logger
	maxConcurrentConversions int64
	conversions              *semaphore.Weighted
	infoCacheSize            int
	infoCache                *lru.Cache[string, *heightmap.RasterInfo]
	allowedOrigins           []string
	defaultDEMType           string
	maxRadiusKM              float64
	now                      func() time.Time
}

// An Option sets an option on a Server.
type Option func(*Server)

// New returns a new Server that keeps its files in store.
func New(store *storage.Store, options ...Option) (*Server, error) {
	s := &Server{
		store:                    store,
		source:                   heightmap.NewGeoTIFFSource(),
		logger:                   zap.NewNop(),
		maxConcurrentConversions: 2,
		infoCacheSize:            128,
		allowedOrigins:           []string{"*"},
		defaultDEMType:           "SRTMGL1",
		maxRadiusKM:              100,
		now:                      time.Now,
	}
	for _, option := range options {
		option(s)
	}
	s.conversions = semaphore.NewWeighted(s.maxConcurrentConversions)
	var err error
	s.infoCache, err = lru.NewWithEvict(s.infoCacheSize, func(string, *heightmap.RasterInfo) {
		infoCacheEvictions.Inc()
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// WithGeocoder sets the geocoder.
func WithGeocoder(geocoder Geocoder) Option {
	return func(s *Server) {
		s.geocoder = geocoder
	}
}

// WithDEMDownloader sets the DEM downloader.
func WithDEMDownloader(downloader DEMDownloader) Option {
	return func(s *Server) {
		s.downloader = downloader
	}
}

// WithHub sets the automation hub. Without a hub the hub routes respond with
// an error and the health check omits the hub's status.
func WithHub(hub Hub) Option {
	return func(s *Server) {
		s.hub = hub
	}
}

// WithRasterSource sets the source of rasters.
func WithRasterSource(source heightmap.RasterSource) Option {
	return func(s *Server) {
		s.source = source
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMaxConcurrentConversions sets the maximum number of simultaneous
// conversions.
func WithMaxConcurrentConversions(n int64) Option {
	return func(s *Server) {
		s.maxConcurrentConversions = n
	}
}

// WithInfoCacheSize sets the number of raster infos to cache.
func WithInfoCacheSize(size int) Option {
	return func(s *Server) {
		s.infoCacheSize = size
	}
}

// WithAllowedOrigins sets the origins allowed by CORS.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithDefaultDEMType sets the DEM type used when a request does not name one.
func WithDefaultDEMType(demType string) Option {
	return func(s *Server) {
		s.defaultDEMType = demType
	}
}

// WithMaxRadiusKM sets the largest download radius.
func WithMaxRadiusKM(maxRadiusKM float64) Option {
	return func(s *Server) {
		s.maxRadiusKM = maxRadiusKM
	}
}

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Post("/geocode", s.handleGeocode)
		r.Post("/download-dem", s.handleDownloadDEM)
		r.Post("/process-dem", s.handleProcessDEM)
		r.Post("/process-dem-info", s.handleProcessDEMInfo)
		r.Post("/cleanup", s.handleCleanup)
		r.Route("/hub", func(r chi.Router) {
			r.Post("/chat", s.handleHubChat)
			r.Post("/data-fetch", s.handleHubDataFetch)
		})
	})
	return r
}

// logRequests logs each request once it has been served.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("requestID", middleware.GetReqID(r.Context())),
		)
	})
}
