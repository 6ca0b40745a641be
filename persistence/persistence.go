package persistence

import (
	"time"

	"github.com/marchworks/dealflow/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return "error in underlying storage layer: " + e.Message
}

// DealStorage persists deals, pipelines and their activity trail. The
// active-deal index it maintains backs the one-active-deal-per-contact-
// per-pipeline invariant; only the pipeline coordinator writes through it.
type DealStorage interface {
	SaveDeal(deal *model.Deal, previous *model.Deal) error
	GetDeal(dealId string) (*model.Deal, error)
	GetActiveDeal(contactId string, pipelineId string) (*model.Deal, error)
	ListDeals() ([]model.Deal, error)

	SavePipeline(pipeline *model.Pipeline) error
	GetPipeline(pipelineId string) (*model.Pipeline, error)

	AddActivity(activity *model.Activity) error
	ListActivities(dealId string, since time.Time) ([]model.Activity, error)
}

// RevertStorage persists scheduled reverts and follow ups as durable
// records plus a sorted-set due queue. Due entries are removed only after
// the record reaches a terminal status, so a restart between poll and
// commit re-proposes the same schedule id.
type RevertStorage interface {
	SaveRevert(revert *model.ScheduledRevert) error
	GetRevert(scheduleId string) (*model.ScheduledRevert, error)
	ListRevertsByDeal(dealId string) ([]model.ScheduledRevert, error)
	PollDueReverts(now time.Time, batchSize int) ([]string, error)
	RemoveDueRevert(scheduleId string) error

	SaveFollowUp(followUp *model.ScheduledFollowUp) error
	GetFollowUp(id string) (*model.ScheduledFollowUp, error)
	PollDueFollowUps(now time.Time, batchSize int) ([]string, error)
	RemoveDueFollowUp(id string) error

	PurgeTerminal(olderThan time.Time) (int, error)
}

// FlowStorage persists execution contexts for diagnostics and feeds the
// captured-variables refresh with recent node outputs.
type FlowStorage interface {
	SaveExecution(execution *model.ExecutionContext) error
	GetExecution(id string) (*model.ExecutionContext, error)
	ListRecentOutputs(flowName string, limit int) (map[string]any, error)
}

// MetadataStorage persists authored workflow definitions.
type MetadataStorage interface {
	SaveWorkflow(workflow *model.Workflow) error
	GetWorkflow(name string) (*model.Workflow, error)
	ListWorkflowNames() ([]string, error)
	DeleteWorkflow(name string) error
}
