package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/marchworks/dealflow/logger"
	"github.com/marchworks/dealflow/model"
)

func (s *Server) HandleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var p model.Pipeline
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if len(p.Id) == 0 || len(p.Stages) == 0 {
		respondWithError(w, http.StatusBadRequest, "pipeline requires an id and at least one stage")
		return
	}
	if err := s.coordinator.SavePipeline(&p); err != nil {
		logger.Error("error saving pipeline", zap.String("pipeline", p.Id), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondOK(w, map[string]any{"created": true})
}

func (s *Server) HandleGetStages(w http.ResponseWriter, r *http.Request) {
	pipelineId := r.URL.Query().Get("pipelineId")
	if len(pipelineId) == 0 {
		respondWithError(w, http.StatusBadRequest, "pipelineId query param required")
		return
	}
	stages, err := s.coordinator.GetStages(pipelineId)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"stages": stages})
}

func (s *Server) HandleCreateDeal(w http.ResponseWriter, r *http.Request) {
	var req model.CreateDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	deal, err := s.coordinator.CreateDeal(req)
	if err != nil {
		logger.Error("error creating deal", zap.String("contact", req.ContactId), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, deal)
}

func (s *Server) HandleListDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := s.coordinator.ListDeals()
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"deals": deals})
}

func (s *Server) HandleGetDeal(w http.ResponseWriter, r *http.Request) {
	dealId, ok := mux.Vars(r)["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	deal, err := s.coordinator.GetDeal(dealId)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, deal)
}

func (s *Server) HandleMoveDeal(w http.ResponseWriter, r *http.Request) {
	dealId, ok := mux.Vars(r)["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req model.MoveDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	deal, err := s.coordinator.MoveDeal(dealId, req.TargetPipelineId, req.TargetStageId, model.ACTIVITY_ORIGIN_MANUAL, "")
	if err != nil {
		logger.Error("error moving deal", zap.String("dealId", dealId), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, deal)
}

func (s *Server) HandleUpdateStage(w http.ResponseWriter, r *http.Request) {
	dealId, ok := mux.Vars(r)["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req model.UpdateStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	origin := req.Origin
	if len(origin) == 0 {
		origin = model.ACTIVITY_ORIGIN_MANUAL
	}
	deal, err := s.coordinator.UpdateStage(dealId, req.StageId, origin, "")
	if err != nil {
		logger.Error("error updating stage", zap.String("dealId", dealId), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, deal)
}

func (s *Server) HandleManageTags(w http.ResponseWriter, r *http.Request) {
	dealId, ok := mux.Vars(r)["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req model.ManageTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	deal, err := s.coordinator.ManageTags(dealId, req.Add, req.Remove, model.ACTIVITY_ORIGIN_MANUAL, "")
	if err != nil {
		logger.Error("error managing tags", zap.String("dealId", dealId), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, deal)
}

func (s *Server) HandleListActivities(w http.ResponseWriter, r *http.Request) {
	dealId, ok := mux.Vars(r)["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	since := time.Time{}
	if raw := r.URL.Query().Get("since"); len(raw) != 0 {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}
	activities, err := s.coordinator.ListActivities(dealId, since)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"activities": activities})
}

func (s *Server) HandleListScheduledReverts(w http.ResponseWriter, r *http.Request) {
	dealId, ok := mux.Vars(r)["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	reverts, err := s.scheduler.ListReverts(dealId)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"reverts": reverts})
}

func (s *Server) HandleCancelRevert(w http.ResponseWriter, r *http.Request) {
	scheduleId, ok := mux.Vars(r)["scheduleId"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.scheduler.Cancel(scheduleId); err != nil {
		logger.Error("error cancelling revert", zap.String("scheduleId", scheduleId), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondOKWithoutBody(w)
}
