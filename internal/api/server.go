// Package api exposes the ledger over HTTP: claim submission, score and
// record reads, and the admin configuration surface.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"creditScope/internal/claims"
	"creditScope/internal/ledger"
	"creditScope/internal/model"
	"creditScope/internal/price"
	"creditScope/internal/score"
	"creditScope/internal/storage"
)

// HeightSource supplies the reference block height for scoring.
type HeightSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// NormalizerFactory builds a price normalizer for a new oracle address when
// an admin swaps it.
type NormalizerFactory func(oracle common.Address) (price.Normalizer, error)

const adminTokenHeader = "X-Admin-Token"

// Config holds server settings.
type Config struct {
	// AdminToken gates the admin surface. Empty disables it.
	AdminToken string
}

// Server wires the dispatcher, ledger and scoring into an HTTP router.
type Server struct {
	cfg        Config
	dispatcher *claims.Dispatcher
	ledger     *ledger.Ledger
	heights    HeightSource
	newNorm    NormalizerFactory
	events     storage.EventSink
	metrics    *Metrics
	promReg    *prometheus.Registry
	logger     *zap.Logger
	router     *mux.Router

	currentOracle string
}

// NewServer builds the server and its routes. The event sink and metrics
// registerer may be nil.
func NewServer(
	cfg Config,
	dispatcher *claims.Dispatcher,
	ledgerSvc *ledger.Ledger,
	heights HeightSource,
	newNorm NormalizerFactory,
	events storage.EventSink,
	reg *prometheus.Registry,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		ledger:     ledgerSvc,
		heights:    heights,
		newNorm:    newNorm,
		events:     events,
		metrics:    NewMetrics(reg),
		promReg:    reg,
		logger:     logger,
		router:     mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/v1/claims", s.handleSubmitClaim).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/users/{user}/score", s.handleAggregateScore).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/users/{user}/protocols/{protocol}/score", s.handleProtocolScore).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/users/{user}/protocols/{protocol}/record", s.handleRecord).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/admin/price-normalizer", s.handleSetNormalizer).Methods(http.MethodPut)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

type submitRequest struct {
	Claim           claims.Claim  `json:"claim"`
	CallerSignature hexutil.Bytes `json:"caller_signature"`
}

type submitResponse struct {
	Events  []model.LedgerEvent `json:"events"`
	Aborted bool                `json:"aborted,omitempty"`
	Reason  string              `json:"reason,omitempty"`
}

func (s *Server) handleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.ClaimsTotal.WithLabelValues("malformed").Inc()
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	events, err := s.dispatcher.Submit(r.Context(), req.CallerSignature, req.Claim)
	if err != nil && !errors.Is(err, model.ErrUnsupportedObservationRole) {
		switch {
		case errors.Is(err, model.ErrUnauthorized):
			s.metrics.ClaimsTotal.WithLabelValues("unauthorized").Inc()
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, model.ErrInvalidTokenBinding), errors.Is(err, model.ErrInvalidObservation):
			s.metrics.ClaimsTotal.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.metrics.ClaimsTotal.WithLabelValues("error").Inc()
			s.logger.Error("submit claim", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	resp := submitResponse{Events: events}
	if err != nil {
		// Stable-debt abort: earlier observations in the batch stay applied.
		resp.Aborted = true
		resp.Reason = err.Error()
		s.metrics.ClaimsTotal.WithLabelValues("partial").Inc()
	} else {
		s.metrics.ClaimsTotal.WithLabelValues("ok").Inc()
	}
	for _, event := range events {
		s.metrics.EventsTotal.WithLabelValues(event.Kind.String()).Inc()
	}

	if s.events != nil && len(events) > 0 {
		if sinkErr := s.events.PutEventBatch(events); sinkErr != nil {
			s.logger.Warn("event sink", zap.Error(sinkErr))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type scoreResponse struct {
	User          string `json:"user"`
	Protocol      string `json:"protocol,omitempty"`
	Score         uint64 `json:"score"`
	Tier          string `json:"tier"`
	CurrentHeight uint64 `json:"current_height"`
}

func (s *Server) handleAggregateScore(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	if !common.IsHexAddress(user) {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}

	height, err := s.heights.LatestBlockNumber(r.Context())
	if err != nil {
		s.logger.Error("latest block", zap.Error(err))
		writeError(w, http.StatusBadGateway, "chain head unavailable")
		return
	}

	record, ok, err := s.ledger.Aggregate(r.Context(), user)
	if err != nil {
		s.logger.Error("load aggregate", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no activity for user")
		return
	}

	value, tier := score.Compute(score.FromAggregate(record, height))
	s.metrics.ScoresTotal.WithLabelValues("aggregate").Inc()
	writeJSON(w, http.StatusOK, scoreResponse{
		User: record.User, Score: value, Tier: tier.String(), CurrentHeight: height,
	})
}

func (s *Server) handleProtocolScore(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user := vars["user"]
	if !common.IsHexAddress(user) {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}
	protocol, err := model.ParseProtocol(vars["protocol"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	height, err := s.heights.LatestBlockNumber(r.Context())
	if err != nil {
		s.logger.Error("latest block", zap.Error(err))
		writeError(w, http.StatusBadGateway, "chain head unavailable")
		return
	}

	record, ok, err := s.ledger.Record(r.Context(), user, protocol)
	if err != nil {
		s.logger.Error("load record", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no activity for user on protocol")
		return
	}

	value, tier := score.Compute(score.FromRecord(record, height))
	s.metrics.ScoresTotal.WithLabelValues("protocol").Inc()
	writeJSON(w, http.StatusOK, scoreResponse{
		User: record.User, Protocol: protocol.String(),
		Score: value, Tier: tier.String(), CurrentHeight: height,
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user := vars["user"]
	if !common.IsHexAddress(user) {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}
	protocol, err := model.ParseProtocol(vars["protocol"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, ok, err := s.ledger.Record(r.Context(), user, protocol)
	if err != nil {
		s.logger.Error("load record", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no activity for user on protocol")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

type setNormalizerRequest struct {
	Oracle string `json:"oracle"`
}

func (s *Server) handleSetNormalizer(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminToken == "" ||
		subtle.ConstantTimeCompare([]byte(r.Header.Get(adminTokenHeader)), []byte(s.cfg.AdminToken)) != 1 {
		writeError(w, http.StatusForbidden, model.ErrUnauthorized.Error())
		return
	}

	var req setNormalizerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !common.IsHexAddress(req.Oracle) || common.HexToAddress(req.Oracle) == (common.Address{}) {
		writeError(w, http.StatusBadRequest, model.ErrConfiguration.Error())
		return
	}

	oracle := common.HexToAddress(req.Oracle)
	normalizer, err := s.newNorm(oracle)
	if err != nil {
		s.logger.Error("build normalizer", zap.Error(err))
		writeError(w, http.StatusBadRequest, model.ErrConfiguration.Error())
		return
	}
	if err := s.ledger.SetNormalizer(normalizer); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	change := model.ConfigChange{
		Name:     "price-normalizer",
		Previous: s.currentOracle,
		Current:  oracle.Hex(),
	}
	s.currentOracle = oracle.Hex()
	s.logger.Info("config change",
		zap.String("name", change.Name),
		zap.String("previous", change.Previous),
		zap.String("current", change.Current),
	)

	writeJSON(w, http.StatusOK, change)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
