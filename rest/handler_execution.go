package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/marchworks/dealflow/logger"
	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/sandbox"
	"github.com/marchworks/dealflow/variables"
)

func (s *Server) HandleRunFlow(w http.ResponseWriter, r *http.Request) {
	var runReq model.FlowRunRequest
	if err := json.NewDecoder(r.Body).Decode(&runReq); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	executionId, err := s.flowEngine.StartFlow(runReq.Name, runReq.Input)
	if err != nil {
		logger.Error("error running workflow", zap.String("name", runReq.Name), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondOK(w, map[string]any{"executionId": executionId})
}

func (s *Server) HandleGetFlowExecution(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	executionId, ok := vars["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	execution, err := s.flowEngine.GetExecution(executionId)
	if err != nil {
		logger.Error("error getting flow execution", zap.String("id", executionId), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, execution)
}

// HandleRefreshCaptured rebuilds the captured variable listing for the
// editor from the flow's recent node outputs. The editor sends its
// current variables and gets them back with captured overlaid.
func (s *Server) HandleRefreshCaptured(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, ok := vars["name"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var input map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	defer r.Body.Close()
	store := variables.NewStore(input)
	if err := s.flowEngine.RefreshCaptured(name, store); err != nil {
		logger.Error("error refreshing captured variables", zap.String("name", name), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondOK(w, map[string]any{"variables": store.Data()})
}

// HandleTestCode lets the editor dry run a script against sample
// variables. It never touches live executions; the variables go in as a
// one-off snapshot.
func (s *Server) HandleTestCode(w http.ResponseWriter, r *http.Request) {
	var req model.TestCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if len(req.Code) == 0 {
		respondWithError(w, http.StatusBadRequest, "code can not be empty")
		return
	}
	timeout := sandbox.ClampTimeout(req.Timeout)
	result := s.sandbox.Execute(r.Context(), req.Code, req.Variables, timeout)
	respondWithJSON(w, http.StatusOK, model.TestCodeResponse{
		Success:   result.Success,
		Result:    result.Value,
		Variables: result.Variables,
		Error:     result.Error,
	})
}
