package server

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/render"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/twpayne/go-heightmap"
	"github.com/twpayne/go-heightmap/internal/opentopo"
	"github.com/twpayne/go-heightmap/internal/storage"
	"github.com/twpayne/go-heightmap/internal/version"
)

type errorResponse struct {
	Error          string `json:"error"`
	Kind           string `json:"kind"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	Version       string `json:"version"`
	AutomationHub string `json:"automation_hub,omitempty"`
}

type geocodeRequest struct {
	Location string `json:"location"`
}

type downloadDEMRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	RadiusKM  *float64 `json:"radius_km"`
	DEMType   string   `json:"dem_type"`
	APIKey    string   `json:"api_key"`
}

type bboxResponse struct {
	South float64 `json:"south"`
	North float64 `json:"north"`
	West  float64 `json:"west"`
	East  float64 `json:"east"`
}

type downloadDEMResponse struct {
	FileID    string       `json:"file_id"`
	Message   string       `json:"message"`
	SizeBytes int64        `json:"size_bytes"`
	BBox      bboxResponse `json:"bbox"`
}

type processDEMRequest struct {
	FileID      string  `json:"file_id"`
	Resolution  *int    `json:"resolution"`
	BitDepth    *int    `json:"bit_depth"`
	SmoothSigma float64 `json:"smooth_sigma"`
}

type fileIDRequest struct {
	FileID string `json:"file_id"`
}

type boundsResponse struct {
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
}

type infoResponse struct {
	MinElevation float64         `json:"min_elevation"`
	MaxElevation float64         `json:"max_elevation"`
	Size         [2]int          `json:"size"`
	Bands        int             `json:"bands"`
	Bounds       boundsResponse  `json:"bounds"`
	BoundsWGS84  *boundsResponse `json:"bounds_wgs84,omitempty"`
	CRS          string          `json:"crs"`
	NoData       *float64        `json:"nodata"`
	GeoTransform [6]float64      `json:"geotransform"`
}

type cleanupResponse struct {
	Message string   `json:"message"`
	Deleted []string `json:"deleted"`
}

type hubChatRequest struct {
	UserID  string         `json:"user_id"`
	Message string         `json:"message"`
	Context map[string]any `json:"context"`
}

type hubDataFetchRequest struct {
	DataType   string         `json:"data_type"`
	Parameters map[string]any `json:"parameters"`
}

func newBoundsResponse(bound orb.Bound) boundsResponse {
	return boundsResponse{
		Left:   bound.Min.X(),
		Bottom: bound.Min.Y(),
		Right:  bound.Max.X(),
		Top:    bound.Max.Y(),
	}
}

// writeError writes err as a JSON error response. Only the public message is
// sent; the full error is logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := heightmap.HTTPStatus(err)
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Info("request rejected", fields...)
	}
	render.Status(r, status)
	render.JSON(w, r, &errorResponse{
		Error:          heightmap.PublicMessage(err),
		Kind:           string(heightmap.KindOf(err)),
		UpstreamStatus: heightmap.UpstreamStatus(err),
	})
}

func inputError(op, msg string, err error) error {
	return heightmap.NewError(heightmap.KindInput, op, msg, err)
}

func decodeJSON(r *http.Request, op string, v any) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return inputError(op, "invalid JSON body", err)
	}
	return nil
}

// parseFileID returns the canonical form of id.
func parseFileID(op, id string) (string, error) {
	if id == "" {
		return "", inputError(op, "file_id is required", nil)
	}
	fileID, err := storage.ParseID(id)
	if err != nil {
		return "", inputError(op, "invalid file_id", err)
	}
	return fileID, nil
}

// requireDEM returns an error if the DEM with the given id does not exist.
func (s *Server) requireDEM(op, fileID string) error {
	switch exists, err := s.store.DEMExists(fileID); {
	case err != nil:
		return heightmap.NewError(heightmap.KindProcessing, op, "cannot access DEM", err)
	case !exists:
		return heightmap.NewError(heightmap.KindNotFound, op, "DEM file not found: "+fileID, nil)
	default:
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := &healthResponse{
		Status:    "healthy",
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Version:   version.Version,
	}
	if s.hub != nil {
		if s.hub.Healthy(r.Context()) {
			response.AutomationHub = "healthy"
		} else {
			response.AutomationHub = "unreachable"
		}
	}
	render.JSON(w, r, response)
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	const op = "geocode"
	var req geocodeRequest
	if err := decodeJSON(r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Location == "" {
		s.writeError(w, r, inputError(op, "location parameter is required", nil))
		return
	}
	if s.geocoder == nil {
		s.writeError(w, r, heightmap.NewError(heightmap.KindProcessing, op, "geocoding not configured", nil))
		return
	}
	result, err := s.geocoder.Geocode(r.Context(), req.Location)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (s *Server) handleDownloadDEM(w http.ResponseWriter, r *http.Request) {
	const op = "download DEM"
	var req downloadDEMRequest
	if err := decodeJSON(r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		s.writeError(w, r, inputError(op, "latitude and longitude are required", nil))
		return
	}
	latitude, longitude := *req.Latitude, *req.Longitude
	radiusKM := 10.0
	if req.RadiusKM != nil {
		radiusKM = *req.RadiusKM
	}
	demType := req.DEMType
	if demType == "" {
		demType = s.defaultDEMType
	}
	switch {
	case math.Abs(latitude) >= 90 || math.IsNaN(latitude):
		s.writeError(w, r, inputError(op, "latitude must be between -90 and 90", nil))
		return
	case math.Abs(longitude) > 180 || math.IsNaN(longitude):
		s.writeError(w, r, inputError(op, "longitude must be between -180 and 180", nil))
		return
	case !(radiusKM > 0) || radiusKM > s.maxRadiusKM:
		s.writeError(w, r, inputError(op, fmt.Sprintf("radius_km must be greater than 0 and at most %g", s.maxRadiusKM), nil))
		return
	}
	if s.downloader == nil {
		s.writeError(w, r, heightmap.NewError(heightmap.KindProcessing, op, "DEM download not configured", nil))
		return
	}

	bound := opentopo.BoundAround(latitude, longitude, radiusKM)
	fileID := storage.NewID()
	n, err := s.downloader.Download(r.Context(), opentopo.Request{
		DEMType: demType,
		Bound:   bound,
		APIKey:  req.APIKey,
	}, func(body io.Reader) (int64, error) {
		return s.store.SaveDEM(fileID, body)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	render.JSON(w, r, &downloadDEMResponse{
		FileID:    fileID,
		Message:   "DEM downloaded successfully",
		SizeBytes: n,
		BBox: bboxResponse{
			South: bound.Min.Lat(),
			North: bound.Max.Lat(),
			West:  bound.Min.Lon(),
			East:  bound.Max.Lon(),
		},
	})
}

func (s *Server) handleProcessDEM(w http.ResponseWriter, r *http.Request) {
	const op = "process DEM"
	var req processDEMRequest
	if err := decodeJSON(r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	fileID, err := parseFileID(op, req.FileID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resolution := heightmap.DefaultResolution
	if req.Resolution != nil {
		resolution = *req.Resolution
	}
	if err := heightmap.ValidateResolution(resolution); err != nil {
		s.writeError(w, r, inputError(op, "invalid resolution: must be one of 129, 257, 513, 1025, 2049, 4097", err))
		return
	}
	depth := heightmap.BitDepth16
	if req.BitDepth != nil {
		depth = heightmap.BitDepth(*req.BitDepth)
	}
	if err := heightmap.ValidateBitDepth(depth); err != nil {
		s.writeError(w, r, inputError(op, "invalid bit_depth: must be 8 or 16", err))
		return
	}
	if req.SmoothSigma < 0 || math.IsNaN(req.SmoothSigma) {
		s.writeError(w, r, inputError(op, "smooth_sigma must not be negative", nil))
		return
	}
	if err := s.requireDEM(op, fileID); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.conversions.Acquire(r.Context(), 1); err != nil {
		s.writeError(w, r, err)
		return
	}
	converter := heightmap.NewConverter(
		heightmap.WithRasterSource(s.source),
		heightmap.WithLogger(s.logger),
		heightmap.WithSmoothing(req.SmoothSigma),
	)
	heightmapPath, err := converter.Convert(r.Context(), s.store.DEMPath(fileID), s.store.HeightmapPath(fileID), resolution, depth)
	s.conversions.Release(1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	f, err := os.Open(heightmapPath)
	if err != nil {
		s.writeError(w, r, heightmap.NewError(heightmap.KindProcessing, op, "cannot read heightmap", err))
		return
	}
	defer f.Close()
	fileInfo, err := f.Stat()
	if err != nil {
		s.writeError(w, r, heightmap.NewError(heightmap.KindProcessing, op, "cannot read heightmap", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "heightmap_"+fileID+".png"))
	http.ServeContent(w, r, "", fileInfo.ModTime(), f)
}

func (s *Server) handleProcessDEMInfo(w http.ResponseWriter, r *http.Request) {
	const op = "process DEM info"
	var req fileIDRequest
	if err := decodeJSON(r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	fileID, err := parseFileID(op, req.FileID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.requireDEM(op, fileID); err != nil {
		s.writeError(w, r, err)
		return
	}

	info, ok := s.infoCache.Get(fileID)
	if ok {
		infoCacheHits.Inc()
	} else {
		infoCacheMisses.Inc()
		converter := heightmap.NewConverter(
			heightmap.WithRasterSource(s.source),
			heightmap.WithLogger(s.logger),
		)
		info, err = converter.ReadInfo(r.Context(), s.store.DEMPath(fileID))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.infoCache.Add(fileID, info)
	}

	response := &infoResponse{
		MinElevation: info.MinElevation,
		MaxElevation: info.MaxElevation,
		Size:         [2]int{info.Height, info.Width},
		Bands:        info.Bands,
		Bounds:       newBoundsResponse(info.Bounds),
		CRS:          info.CRS,
		NoData:       info.NoData,
		GeoTransform: info.GeoTransform,
	}
	if info.BoundsWGS84 != nil {
		boundsWGS84 := newBoundsResponse(*info.BoundsWGS84)
		response.BoundsWGS84 = &boundsWGS84
	}
	render.JSON(w, r, response)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	const op = "cleanup"
	var req fileIDRequest
	if err := decodeJSON(r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	fileID, err := parseFileID(op, req.FileID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.infoCache.Remove(fileID)
	deleted, err := s.store.Cleanup(fileID)
	if err != nil {
		s.writeError(w, r, heightmap.NewError(heightmap.KindProcessing, op, "cleanup failed", err))
		return
	}
	render.JSON(w, r, &cleanupResponse{
		Message: fmt.Sprintf("Cleaned up %d file(s)", len(deleted)),
		Deleted: deleted,
	})
}

func (s *Server) handleHubChat(w http.ResponseWriter, r *http.Request) {
	const op = "hub chat"
	var req hubChatRequest
	if err := decodeJSON(r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.UserID == "" || req.Message == "" {
		s.writeError(w, r, inputError(op, "user_id and message are required", nil))
		return
	}
	if s.hub == nil {
		s.writeError(w, r, heightmap.NewError(heightmap.KindProcessing, op, "automation hub not configured", nil))
		return
	}
	response, err := s.hub.Chat(r.Context(), req.UserID, req.Message, req.Context)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, response)
}

func (s *Server) handleHubDataFetch(w http.ResponseWriter, r *http.Request) {
	const op = "hub data fetch"
	var req hubDataFetchRequest
	if err := decodeJSON(r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DataType == "" {
		s.writeError(w, r, inputError(op, "data_type is required", nil))
		return
	}
	if s.hub == nil {
		s.writeError(w, r, heightmap.NewError(heightmap.KindProcessing, op, "automation hub not configured", nil))
		return
	}
	response, err := s.hub.FetchData(r.Context(), req.DataType, req.Parameters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, response)
}
