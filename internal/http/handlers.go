package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/roadside-dispatch/internal/directory"
	"github.com/example/roadside-dispatch/internal/dispatch"
	"github.com/example/roadside-dispatch/internal/geo"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/notify"
	"github.com/example/roadside-dispatch/internal/observability"
)

// AvailabilityPublisher forwards availability reports to the location topic.
type AvailabilityPublisher interface {
	PublishAvailability(ctx context.Context, u models.AvailabilityUpdate) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Engine    *dispatch.Engine
	Providers directory.Writer
	Kafka     AvailabilityPublisher // optional
	WSReg     *notify.WSRegistry    // optional
	Store     Pinger                // optional
	Logger    *slog.Logger

	// AutoApprove marks providers approved on their first availability
	// report. Only for single-node development runs.
	AutoApprove bool
}

type Server struct {
	Engine      *dispatch.Engine
	Providers   directory.Writer
	Kafka       AvailabilityPublisher
	WSReg       *notify.WSRegistry
	Store       Pinger
	autoApprove bool
	logger      *slog.Logger
	mux         *mux.Router
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Engine:      opts.Engine,
		Providers:   opts.Providers,
		Kafka:       opts.Kafka,
		WSReg:       opts.WSReg,
		Store:       opts.Store,
		autoApprove: opts.AutoApprove,
		logger:      logger,
		mux:         mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	ws := s.mux.PathPrefix("/ws").Subrouter()
	ws.Use(s.identityMiddleware)
	ws.HandleFunc("/{provider_id}", s.handleWS).Methods("GET")

	api := s.mux.PathPrefix("/api").Subrouter()
	api.Use(s.identityMiddleware)

	em := api.PathPrefix("/emergency").Subrouter()
	em.HandleFunc("/create-request", s.handleCreate).Methods("POST")
	em.HandleFunc("/show-requests", s.handleShowRequests).Methods("GET")
	em.HandleFunc("/accept-request/{id}", s.handleAccept).Methods("PATCH")
	em.HandleFunc("/reject-request/{id}", s.handleReject).Methods("PATCH")
	em.HandleFunc("/cancel-request/{id}", s.handleCancel).Methods("PATCH")
	em.HandleFunc("/complete-request/{id}", s.handleComplete).Methods("PATCH")
	em.HandleFunc("/request-status/{id}", s.handleStatus).Methods("GET")
	em.HandleFunc("/mechanic-details/{id}", s.handleMechanicDetails).Methods("GET")
	em.HandleFunc("/ongoing", s.handleOngoing).Methods("GET")
	em.HandleFunc("/history", s.handleHistory).Methods("GET")
	em.HandleFunc("/mechanic-history", s.handleMechanicHistory).Methods("GET")

	api.HandleFunc("/mechanic/update-availability", s.handleUpdateAvailability).Methods("POST")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in dispatch.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	in.RequesterID = callerID(r.Context())
	req, err := s.Engine.CreateRequest(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Emergency request created successfully", "request": req})
}

func (s *Server) handleShowRequests(w http.ResponseWriter, r *http.Request) {
	cands, err := s.Engine.ListCandidates(r.Context(), callerID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for i := range cands {
		cands[i].DistanceKm = geo.Round2(cands[i].DistanceKm)
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": cands})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	req, err := s.Engine.Claim(r.Context(), mux.Vars(r)["id"], callerID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Request accepted", "request": req})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Reject(r.Context(), mux.Vars(r)["id"], callerID(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Request rejected")
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	req, err := s.Engine.Cancel(r.Context(), mux.Vars(r)["id"], callerID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Request cancelled", "request": req})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	req, err := s.Engine.Complete(r.Context(), mux.Vars(r)["id"], callerID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Request completed", "request": req})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Engine.GetStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMechanicDetails(w http.ResponseWriter, r *http.Request) {
	d, err := s.Engine.ProviderDetails(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d.DistanceKm = geo.Round2(d.DistanceKm)
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleOngoing(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.Engine.Ongoing(r.Context(), callerID(r.Context()))
	s.writeList(w, r, reqs, err)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.Engine.RequesterHistory(r.Context(), callerID(r.Context()))
	s.writeList(w, r, reqs, err)
}

func (s *Server) handleMechanicHistory(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.Engine.ProviderHistory(r.Context(), callerID(r.Context()))
	s.writeList(w, r, reqs, err)
}

func (s *Server) writeList(w http.ResponseWriter, r *http.Request, reqs []*models.EmergencyRequest, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []*models.EmergencyRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

var validate = validator.New()

type availabilityInput struct {
	IsAvailable *bool                    `json:"isAvailable" validate:"required"`
	Location    *dispatch.LocationInput  `json:"location" validate:"required"`
	Preference  models.ServicePreference `json:"servicePreference" validate:"omitempty,oneof=EmergencyOnly ScheduledOnly Both"`
}

func (s *Server) handleUpdateAvailability(w http.ResponseWriter, r *http.Request) {
	var in availabilityInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(in); err != nil {
		writeMessage(w, http.StatusBadRequest, "availability and location are required")
		return
	}
	u := models.AvailabilityUpdate{
		ProviderID: callerID(r.Context()),
		Available:  *in.IsAvailable,
		Location:   models.Coord{Lat: *in.Location.Latitude, Lon: *in.Location.Longitude},
		Preference: in.Preference,
	}
	if s.autoApprove {
		approved := true
		u.Approved = &approved
	}
	p, err := s.Providers.Upsert(r.Context(), u)
	if errors.Is(err, directory.ErrSuspended) {
		writeMessage(w, http.StatusForbidden, "Your account is suspended")
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	observability.ProviderPings.Inc()
	if s.Kafka != nil {
		if err := s.Kafka.PublishAvailability(r.Context(), u); err != nil {
			s.logger.Warn("publish availability failed", "provider_id", u.ProviderID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Availability updated", "provider": p})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Store.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			writeMessage(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["provider_id"])
	if id != callerID(r.Context()) {
		writeMessage(w, http.StatusForbidden, "session belongs to another provider")
		return
	}
	if s.WSReg == nil {
		writeMessage(w, http.StatusNotFound, "websocket sessions disabled")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger.Warn("ws upgrade failed", "provider_id", id, "error", err)
		return
	}
	s.WSReg.Serve(r.Context(), id, conn)
}
