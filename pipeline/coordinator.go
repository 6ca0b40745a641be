package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marchworks/dealflow/logger"
	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/persistence"
	"github.com/marchworks/dealflow/util"
	"go.uber.org/zap"
)

// Coordinator is the single gatekeeper for deal and stage mutations.
// Every mutation, whether it comes from a manual edit, a flow node or a
// firing revert, passes through here so conflicting writes serialize in
// the per-deal critical section. The one-active-deal-per-contact-per-
// pipeline invariant is checked inside the contact section, so two
// concurrent moves for the same contact cannot both pass validation.
type Coordinator struct {
	deals   persistence.DealStorage
	reverts persistence.RevertStorage
	locks   *util.KeyedMutex
}

func NewCoordinator(deals persistence.DealStorage, reverts persistence.RevertStorage) *Coordinator {
	return &Coordinator{
		deals:   deals,
		reverts: reverts,
		locks:   util.NewKeyedMutex(),
	}
}

func dealLockKey(dealId string) string {
	return "deal:" + dealId
}

func contactLockKey(contactId string) string {
	return "contact:" + contactId
}

func (c *Coordinator) GetDeal(dealId string) (*model.Deal, error) {
	return c.deals.GetDeal(dealId)
}

func (c *Coordinator) ListDeals() ([]model.Deal, error) {
	return c.deals.ListDeals()
}

func (c *Coordinator) GetStages(pipelineId string) ([]model.PipelineStage, error) {
	pipeline, err := c.deals.GetPipeline(pipelineId)
	if err != nil {
		return nil, err
	}
	return pipeline.Stages, nil
}

func (c *Coordinator) SavePipeline(pipeline *model.Pipeline) error {
	return c.deals.SavePipeline(pipeline)
}

func (c *Coordinator) stageExists(pipelineId string, stageId string) (bool, error) {
	pipeline, err := c.deals.GetPipeline(pipelineId)
	if err != nil {
		return false, err
	}
	for _, stage := range pipeline.Stages {
		if stage.Id == stageId {
			return true, nil
		}
	}
	return false, nil
}

// CreateDeal creates an active deal after checking the contact has no
// other active deal in the pipeline.
func (c *Coordinator) CreateDeal(req model.CreateDealRequest) (*model.Deal, error) {
	if ok, err := c.stageExists(req.PipelineId, req.StageId); err != nil {
		return nil, err
	} else if !ok {
		return nil, model.ValidationError{Message: fmt.Sprintf("stage %s not in pipeline %s", req.StageId, req.PipelineId)}
	}

	c.locks.Lock(contactLockKey(req.ContactId))
	defer c.locks.Unlock(contactLockKey(req.ContactId))

	existing, err := c.deals.GetActiveDeal(req.ContactId, req.PipelineId)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, model.InvariantViolation{
			Code:    model.BLOCKED_BY_EXISTING_DEAL,
			Message: fmt.Sprintf("contact %s already has active deal %s in pipeline %s", req.ContactId, existing.Id, req.PipelineId),
		}
	}
	now := time.Now()
	deal := &model.Deal{
		Id:             uuid.NewString(),
		ContactId:      req.ContactId,
		PipelineId:     req.PipelineId,
		StageId:        req.StageId,
		Status:         model.DEAL_STATUS_ACTIVE,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	if err := c.deals.SaveDeal(deal, nil); err != nil {
		return nil, err
	}
	logger.Info("deal created", zap.String("dealId", deal.Id), zap.String("contact", req.ContactId), zap.String("pipeline", req.PipelineId))
	return deal, nil
}

// MoveDeal moves a deal to another pipeline and stage. Pending reverts
// tied to the previous pipeline's stage semantics stop making sense after
// the move, so they are invalidated in the same critical section.
func (c *Coordinator) MoveDeal(dealId string, targetPipelineId string, targetStageId string, origin model.ActivityOrigin, flowExecutionId string) (*model.Deal, error) {
	deal, err := c.deals.GetDeal(dealId)
	if err != nil {
		return nil, err
	}

	c.locks.Lock(contactLockKey(deal.ContactId))
	defer c.locks.Unlock(contactLockKey(deal.ContactId))
	c.locks.Lock(dealLockKey(dealId))
	defer c.locks.Unlock(dealLockKey(dealId))

	// re-read inside the critical section
	deal, err = c.deals.GetDeal(dealId)
	if err != nil {
		return nil, err
	}
	if ok, err := c.stageExists(targetPipelineId, targetStageId); err != nil {
		return nil, err
	} else if !ok {
		return nil, model.ValidationError{Message: fmt.Sprintf("stage %s not in pipeline %s", targetStageId, targetPipelineId)}
	}
	if deal.PipelineId != targetPipelineId {
		existing, err := c.deals.GetActiveDeal(deal.ContactId, targetPipelineId)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.Id != deal.Id {
			return nil, model.InvariantViolation{
				Code:    model.BLOCKED_BY_EXISTING_DEAL,
				Message: fmt.Sprintf("contact %s already has active deal %s in pipeline %s", deal.ContactId, existing.Id, targetPipelineId),
			}
		}
	}

	previous := *deal
	now := time.Now()
	deal.PipelineId = targetPipelineId
	deal.StageId = targetStageId
	deal.LastActivityAt = now
	if err := c.deals.SaveDeal(deal, &previous); err != nil {
		return nil, err
	}
	if err := c.deals.AddActivity(&model.Activity{
		DealId:          dealId,
		Kind:            model.ACTIVITY_KIND_PIPELINE_CHANGE,
		Origin:          origin,
		FlowExecutionId: flowExecutionId,
		Detail:          fmt.Sprintf("%s/%s -> %s/%s", previous.PipelineId, previous.StageId, targetPipelineId, targetStageId),
		At:              now,
	}); err != nil {
		return nil, err
	}
	if previous.PipelineId != targetPipelineId {
		c.invalidateScheduledReverts(dealId, model.REVERT_REASON_PIPELINE_MOVED)
	}
	logger.Info("deal moved", zap.String("dealId", dealId), zap.String("pipeline", targetPipelineId), zap.String("stage", targetStageId))
	return deal, nil
}

// UpdateStage changes the deal's stage within its current pipeline and
// records whether the change was automated or manual; the distinction
// feeds onlyIfNoActivity evaluation later.
func (c *Coordinator) UpdateStage(dealId string, stageId string, origin model.ActivityOrigin, flowExecutionId string) (*model.Deal, error) {
	c.locks.Lock(dealLockKey(dealId))
	defer c.locks.Unlock(dealLockKey(dealId))

	deal, err := c.deals.GetDeal(dealId)
	if err != nil {
		return nil, err
	}
	if ok, err := c.stageExists(deal.PipelineId, stageId); err != nil {
		return nil, err
	} else if !ok {
		return nil, model.ValidationError{Message: fmt.Sprintf("stage %s not in pipeline %s", stageId, deal.PipelineId)}
	}

	previous := *deal
	now := time.Now()
	deal.StageId = stageId
	deal.LastActivityAt = now
	if err := c.deals.SaveDeal(deal, &previous); err != nil {
		return nil, err
	}
	if err := c.deals.AddActivity(&model.Activity{
		DealId:          dealId,
		Kind:            model.ACTIVITY_KIND_STAGE_CHANGE,
		Origin:          origin,
		FlowExecutionId: flowExecutionId,
		Detail:          fmt.Sprintf("%s -> %s", previous.StageId, stageId),
		At:              now,
	}); err != nil {
		return nil, err
	}
	return deal, nil
}

func (c *Coordinator) ManageTags(dealId string, add []string, remove []string, origin model.ActivityOrigin, flowExecutionId string) (*model.Deal, error) {
	c.locks.Lock(dealLockKey(dealId))
	defer c.locks.Unlock(dealLockKey(dealId))

	deal, err := c.deals.GetDeal(dealId)
	if err != nil {
		return nil, err
	}
	previous := *deal
	tags := make([]string, 0, len(deal.Tags)+len(add))
	removed := make(map[string]bool, len(remove))
	for _, tag := range remove {
		removed[tag] = true
	}
	seen := make(map[string]bool)
	for _, tag := range append(append([]string{}, deal.Tags...), add...) {
		if removed[tag] || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	now := time.Now()
	deal.Tags = tags
	deal.LastActivityAt = now
	if err := c.deals.SaveDeal(deal, &previous); err != nil {
		return nil, err
	}
	if err := c.deals.AddActivity(&model.Activity{
		DealId:          dealId,
		Kind:            model.ACTIVITY_KIND_TAG_CHANGE,
		Origin:          origin,
		FlowExecutionId: flowExecutionId,
		Detail:          fmt.Sprintf("add=%v remove=%v", add, remove),
		At:              now,
	}); err != nil {
		return nil, err
	}
	return deal, nil
}

// RecordActivity lets non-stage mutations (sent messages and the like)
// feed the deal's activity trail.
func (c *Coordinator) RecordActivity(dealId string, kind string, origin model.ActivityOrigin, flowExecutionId string, detail string) error {
	c.locks.Lock(dealLockKey(dealId))
	defer c.locks.Unlock(dealLockKey(dealId))

	deal, err := c.deals.GetDeal(dealId)
	if err != nil {
		return err
	}
	previous := *deal
	now := time.Now()
	deal.LastActivityAt = now
	if err := c.deals.SaveDeal(deal, &previous); err != nil {
		return err
	}
	return c.deals.AddActivity(&model.Activity{
		DealId:          dealId,
		Kind:            kind,
		Origin:          origin,
		FlowExecutionId: flowExecutionId,
		Detail:          detail,
		At:              now,
	})
}

func (c *Coordinator) ListActivities(dealId string, since time.Time) ([]model.Activity, error) {
	return c.deals.ListActivities(dealId, since)
}

// ApplyScheduledRevert settles a due revert inside its deal's critical
// section. Cross-pipeline moves invalidate reverts under the same lock,
// so the scheduled status re-read here cannot interleave with a move:
// whichever commits first, the other observes the terminal record. The
// returned bool reports whether a stage change was applied.
func (c *Coordinator) ApplyScheduledRevert(scheduleId string) (*model.ScheduledRevert, bool, error) {
	revert, err := c.reverts.GetRevert(scheduleId)
	if err != nil {
		return nil, false, err
	}
	c.locks.Lock(dealLockKey(revert.DealId))
	defer c.locks.Unlock(dealLockKey(revert.DealId))

	revert, err = c.reverts.GetRevert(scheduleId)
	if err != nil {
		return nil, false, err
	}
	if revert.Status != model.REVERT_STATUS_SCHEDULED {
		return revert, false, nil
	}
	settle := func(status model.RevertStatus, reason string) (*model.ScheduledRevert, bool, error) {
		revert.Status = status
		revert.Reason = reason
		return revert, false, c.reverts.SaveRevert(revert)
	}
	deal, err := c.deals.GetDeal(revert.DealId)
	if err != nil {
		return settle(model.REVERT_STATUS_FAILED, "deal_not_found")
	}
	if deal.Status != model.DEAL_STATUS_ACTIVE || deal.StageId == revert.RevertToStageId {
		return settle(model.REVERT_STATUS_EXECUTED, "")
	}
	if ok, err := c.stageExists(deal.PipelineId, revert.RevertToStageId); err != nil {
		return nil, false, err
	} else if !ok {
		return settle(model.REVERT_STATUS_FAILED, fmt.Sprintf("stage %s not in pipeline %s", revert.RevertToStageId, deal.PipelineId))
	}

	previous := *deal
	now := time.Now()
	deal.StageId = revert.RevertToStageId
	deal.LastActivityAt = now
	if err := c.deals.SaveDeal(deal, &previous); err != nil {
		return nil, false, err
	}
	if err := c.deals.AddActivity(&model.Activity{
		DealId:          revert.DealId,
		Kind:            model.ACTIVITY_KIND_STAGE_CHANGE,
		Origin:          model.ACTIVITY_ORIGIN_AUTOMATED,
		FlowExecutionId: revert.FlowExecutionId,
		Detail:          fmt.Sprintf("%s -> %s", previous.StageId, revert.RevertToStageId),
		At:              now,
	}); err != nil {
		return nil, false, err
	}
	revert.Status = model.REVERT_STATUS_EXECUTED
	revert.Reason = ""
	if err := c.reverts.SaveRevert(revert); err != nil {
		return nil, false, err
	}
	logger.Info("revert applied", zap.String("scheduleId", scheduleId), zap.String("dealId", revert.DealId), zap.String("stage", revert.RevertToStageId))
	return revert, true, nil
}

func (c *Coordinator) invalidateScheduledReverts(dealId string, reason string) {
	reverts, err := c.reverts.ListRevertsByDeal(dealId)
	if err != nil {
		logger.Error("error listing reverts for invalidation", zap.String("dealId", dealId), zap.Error(err))
		return
	}
	for i := range reverts {
		revert := reverts[i]
		if revert.Status != model.REVERT_STATUS_SCHEDULED {
			continue
		}
		revert.Status = model.REVERT_STATUS_CANCELLED
		revert.Reason = reason
		if err := c.reverts.SaveRevert(&revert); err != nil {
			logger.Error("error invalidating revert", zap.String("scheduleId", revert.ScheduleId), zap.Error(err))
			continue
		}
		if err := c.reverts.RemoveDueRevert(revert.ScheduleId); err != nil {
			logger.Error("error removing due entry", zap.String("scheduleId", revert.ScheduleId), zap.Error(err))
		}
		logger.Info("revert invalidated", zap.String("scheduleId", revert.ScheduleId), zap.String("reason", reason))
	}
}
