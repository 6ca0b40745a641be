package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/marchworks/dealflow/engine"
	"github.com/marchworks/dealflow/logger"
	"github.com/marchworks/dealflow/metadata"
	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/pipeline"
	"github.com/marchworks/dealflow/sandbox"
	"github.com/marchworks/dealflow/scheduler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port            int
	metadataService metadata.MetadataService
	flowEngine      *engine.FlowEngine
	coordinator     *pipeline.Coordinator
	scheduler       *scheduler.Scheduler
	sandbox         *sandbox.Executor
}

func NewServer(httpPort int, metadataService metadata.MetadataService, flowEngine *engine.FlowEngine, coordinator *pipeline.Coordinator, sched *scheduler.Scheduler, sandboxExecutor *sandbox.Executor) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		metadataService: metadataService,
		flowEngine:      flowEngine,
		coordinator:     coordinator,
		scheduler:       sched,
		sandbox:         sandboxExecutor,
		Port:            httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/metadata/workflow", s.HandleCreateFlow).Methods(http.MethodPost)
	router.HandleFunc("/metadata/workflow", s.HandleListFlows).Methods(http.MethodGet)
	router.HandleFunc("/metadata/workflow/{name}", s.HandleGetFlow).Methods(http.MethodGet)
	router.HandleFunc("/metadata/workflow/{name}", s.HandleDeleteFlow).Methods(http.MethodDelete)

	router.HandleFunc("/execution", s.HandleRunFlow).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}", s.HandleGetFlowExecution).Methods(http.MethodGet)

	router.HandleFunc("/api/flows/test-code", s.HandleTestCode).Methods(http.MethodPost)
	router.HandleFunc("/api/flows/{name}/refresh-captured", s.HandleRefreshCaptured).Methods(http.MethodPost)

	router.HandleFunc("/api/pipeline/stages", s.HandleGetStages).Methods(http.MethodGet)
	router.HandleFunc("/api/pipeline", s.HandleCreatePipeline).Methods(http.MethodPost)

	router.HandleFunc("/api/deals", s.HandleCreateDeal).Methods(http.MethodPost)
	router.HandleFunc("/api/deals", s.HandleListDeals).Methods(http.MethodGet)
	router.HandleFunc("/api/deals/{id}", s.HandleGetDeal).Methods(http.MethodGet)
	router.HandleFunc("/api/deals/{id}/move-pipeline", s.HandleMoveDeal).Methods(http.MethodPost)
	router.HandleFunc("/api/deals/{id}/stage", s.HandleUpdateStage).Methods(http.MethodPost)
	router.HandleFunc("/api/deals/{id}/tags", s.HandleManageTags).Methods(http.MethodPost)
	router.HandleFunc("/api/deals/{id}/activities", s.HandleListActivities).Methods(http.MethodGet)
	router.HandleFunc("/api/deals/{id}/scheduled-reverts", s.HandleListScheduledReverts).Methods(http.MethodGet)

	router.HandleFunc("/api/pipeline-reverts/{scheduleId}", s.HandleCancelRevert).Methods(http.MethodDelete)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, message map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
	res, _ := json.Marshal(message)
	w.Write(res)
}

func respondOKWithoutBody(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithDomainError maps the domain error taxonomy onto HTTP codes.
// Invariant conflicts and firing races surface as 409 so callers can tell
// "already taken" apart from "you sent garbage".
func respondWithDomainError(w http.ResponseWriter, err error) {
	var conflict model.ScheduleConflict
	var notFound model.NotFoundError
	var validation model.ValidationError
	switch {
	case model.IsInvariantViolation(err):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.As(err, &conflict):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.As(err, &notFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}
