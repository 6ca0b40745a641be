package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/marchworks/dealflow/logger"
	"github.com/marchworks/dealflow/model"
)

func (s *Server) HandleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var fl model.Workflow
	if err := json.NewDecoder(r.Body).Decode(&fl); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := s.metadataService.SaveWorkflow(&fl); err != nil {
		logger.Error("error saving workflow", zap.String("name", fl.Name), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondOK(w, map[string]any{"created": true})
}

func (s *Server) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flowName, ok := vars["name"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	wf, err := s.metadataService.GetWorkflow(flowName)
	if err != nil {
		logger.Info("workflow does not exist", zap.String("name", flowName))
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}

func (s *Server) HandleListFlows(w http.ResponseWriter, r *http.Request) {
	names, err := s.metadataService.ListWorkflowNames()
	if err != nil {
		logger.Error("error listing workflows", zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"workflows": names})
}

func (s *Server) HandleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flowName, ok := vars["name"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.metadataService.DeleteWorkflow(flowName); err != nil {
		logger.Error("error deleting workflow", zap.String("name", flowName), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondOKWithoutBody(w)
}
