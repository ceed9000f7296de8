package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/gatekeeper/internal/events"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/service"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
	"github.com/BrandonDHaskell/gatekeeper/internal/metrics"
)

type Dependencies struct {
	Logger   logrus.FieldLogger
	Addr     string
	Ingest   *service.IngestService
	Vehicles *service.VehicleRegistry
	Hub      *events.Hub      // optional; enables /v1/events
	Metrics  *metrics.Metrics // optional; enables /metrics

	CORSOrigins       []string
	ScanRatePerMinute int // 0 = unlimited
}

type Server struct {
	httpServer *http.Server
	logger     logrus.FieldLogger
	ingest     *service.IngestService
	vehicles   *service.VehicleRegistry
	hub        *events.Hub
}

func NewServer(d Dependencies) *Server {
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		logger:   logger,
		ingest:   d.Ingest,
		vehicles: d.Vehicles,
		hub:      d.Hub,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(corsHandler(d.CORSOrigins))

	scan := http.Handler(http.HandlerFunc(s.handleScan))
	if d.ScanRatePerMinute > 0 {
		scan = httprate.LimitByIP(d.ScanRatePerMinute, time.Minute)(scan)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Route("/v1", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/logs", s.handleLogs)
			r.Method(http.MethodPost, "/scan", scan)
			r.Get("/vehicles", s.handleListVehicles)
			r.Post("/vehicles", s.handleRegisterVehicle)
			r.Delete("/vehicles/{tagId}", s.handleRemoveVehicle)
		})

		// Unversioned paths used by the original dashboard.
		r.Get("/status", s.handleStatus)
		r.Get("/logs", s.handleLogs)
		r.Method(http.MethodPost, "/scan", scan)
	})

	if d.Hub != nil {
		r.Get("/v1/events", s.handleEvents)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Status & logs ──

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, s.ingest.Status(r.Context()))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	logs, err := s.ingest.Logs(r.Context(), limit)
	if err != nil {
		s.fail(w, err, "logs")
		return
	}
	s.respond(w, r, http.StatusOK, logs)
}

// ── Scan ──

// handleScan accepts tag_id and direction from the query string, a JSON
// body, or a protobuf Struct body. Body fields win over query values.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := types.ScanRequest{TagID: q.Get("tag_id"), Direction: q.Get("direction")}

	body, err := s.decodeScanBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if body.TagID != "" {
		req.TagID = body.TagID
	}
	if body.Direction != "" {
		req.Direction = body.Direction
	}

	dir, err := types.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_direction", service.ErrInvalidDirection.Error())
		return
	}

	log, err := s.ingest.ProcessScan(r.Context(), req.TagID, dir)
	if err != nil {
		s.fail(w, err, "scan")
		return
	}
	s.respond(w, r, http.StatusOK, log)
}

func (s *Server) decodeScanBody(w http.ResponseWriter, r *http.Request) (types.ScanRequest, error) {
	var req types.ScanRequest
	if r.ContentLength == 0 {
		return req, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	if isProtobuf(r) {
		var msg structpb.Struct
		if err := readProto(r, &msg); err != nil {
			return req, errors.New("invalid protobuf body")
		}
		return scanRequestFromProto(&msg)
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return types.ScanRequest{}, nil
		}
		return req, errors.New("invalid JSON body")
	}
	return req, nil
}

// ── Vehicles ──

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	list, err := s.vehicles.List(r.Context())
	if err != nil {
		s.fail(w, err, "list vehicles")
		return
	}
	s.respond(w, r, http.StatusOK, list)
}

func (s *Server) handleRegisterVehicle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var v types.Vehicle
	if isProtobuf(r) {
		var msg structpb.Struct
		if err := readProto(r, &msg); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid protobuf body")
			return
		}
		pv, err := vehicleFromProto(&msg)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		v = pv
	} else {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&v); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return
		}
		// Vehicle keeps unknown keys for the data file; the API stays strict.
		if len(v.Extra) > 0 {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return
		}
	}

	created, err := s.vehicles.Register(r.Context(), v)
	if err != nil {
		s.fail(w, err, "register vehicle")
		return
	}
	s.respond(w, r, http.StatusCreated, created)
}

func (s *Server) handleRemoveVehicle(w http.ResponseWriter, r *http.Request) {
	if err := s.vehicles.Remove(r.Context(), chi.URLParam(r, "tagId")); err != nil {
		s.fail(w, err, "remove vehicle")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Responses ──

// fail maps service and store errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "timeout", "request cancelled")
	case errors.Is(err, service.ErrInvalidTagID):
		writeError(w, http.StatusBadRequest, "invalid_tag_id", service.ErrInvalidTagID.Error())
	case errors.Is(err, service.ErrInvalidDirection):
		writeError(w, http.StatusBadRequest, "invalid_direction", service.ErrInvalidDirection.Error())
	case errors.Is(err, service.ErrInvalidVehicle):
		writeError(w, http.StatusBadRequest, "invalid_vehicle", service.ErrInvalidVehicle.Error())
	case errors.Is(err, service.ErrDuplicateTag):
		writeError(w, http.StatusConflict, "duplicate_tag", err.Error())
	case errors.Is(err, service.ErrVehicleNotFound):
		writeError(w, http.StatusNotFound, "vehicle_not_found", err.Error())
	case errors.Is(err, store.ErrUnavailable):
		s.logger.WithError(err).WithField("op", op).Error("store unavailable")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "access store unavailable")
	default:
		s.logger.WithError(err).WithField("op", op).Error("unexpected error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

// respond writes v as JSON, or as a google.protobuf.Value when the client
// accepts protobuf.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsProtobuf(r) {
		pv, err := toProtoValue(v)
		if err != nil {
			s.logger.WithError(err).Error("protobuf conversion failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeProto(w, status, pv)
		return
	}
	writeJSON(w, status, v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}
