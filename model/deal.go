package model

import "time"

type DealStatus string

const (
	DEAL_STATUS_ACTIVE   DealStatus = "active"
	DEAL_STATUS_WON      DealStatus = "won"
	DEAL_STATUS_LOST     DealStatus = "lost"
	DEAL_STATUS_ARCHIVED DealStatus = "archived"
)

type Deal struct {
	Id             string     `json:"id"`
	ContactId      string     `json:"contactId"`
	PipelineId     string     `json:"pipelineId"`
	StageId        string     `json:"stageId"`
	Status         DealStatus `json:"status"`
	Tags           []string   `json:"tags,omitempty"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type PipelineStage struct {
	Id    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Pipeline holds its stages in display order.
type Pipeline struct {
	Id     string          `json:"id"`
	Name   string          `json:"name"`
	Stages []PipelineStage `json:"stages"`
}

type ActivityOrigin string

const (
	ACTIVITY_ORIGIN_AUTOMATED ActivityOrigin = "automated"
	ACTIVITY_ORIGIN_MANUAL    ActivityOrigin = "manual"
)

type Activity struct {
	DealId          string         `json:"dealId"`
	Kind            string         `json:"kind"`
	Origin          ActivityOrigin `json:"origin"`
	FlowExecutionId string         `json:"flowExecutionId,omitempty"`
	Detail          string         `json:"detail,omitempty"`
	At              time.Time      `json:"at"`
}

const ACTIVITY_KIND_PIPELINE_CHANGE = "pipeline_change"
const ACTIVITY_KIND_STAGE_CHANGE = "stage_change"
const ACTIVITY_KIND_TAG_CHANGE = "tag_change"
const ACTIVITY_KIND_MESSAGE = "message"

type RevertStatus string

const (
	REVERT_STATUS_SCHEDULED RevertStatus = "scheduled"
	REVERT_STATUS_EXECUTED  RevertStatus = "executed"
	REVERT_STATUS_CANCELLED RevertStatus = "cancelled"
	REVERT_STATUS_FAILED    RevertStatus = "failed"
)

const REVERT_REASON_ACTIVITY_DETECTED = "activity_detected"
const REVERT_REASON_PIPELINE_MOVED = "pipeline_moved"

// ScheduledRevert is a durable deferred stage change. It outlives the flow
// execution that created it; once persisted it is mutated only by the
// scheduler or by explicit cancellation.
type ScheduledRevert struct {
	ScheduleId            string         `json:"scheduleId"`
	DealId                string         `json:"dealId"`
	FlowExecutionId       string         `json:"flowExecutionId,omitempty"`
	RevertToStageId       string         `json:"revertToStageId"`
	ScheduledAt           time.Time      `json:"scheduledAt"`
	ScheduledFor          time.Time      `json:"scheduledFor"`
	RevertTimeAmount      int            `json:"revertTimeAmount"`
	RevertTimeUnit        RevertTimeUnit `json:"revertTimeUnit"`
	OnlyIfNoActivity      bool           `json:"onlyIfNoActivity"`
	IgnoreOwnFlowActivity bool           `json:"ignoreOwnFlowActivity"`
	Status                RevertStatus   `json:"status"`
	Reason                string         `json:"reason,omitempty"`
}

type FollowUpStatus string

const (
	FOLLOW_UP_STATUS_SCHEDULED FollowUpStatus = "scheduled"
	FOLLOW_UP_STATUS_SENT      FollowUpStatus = "sent"
	FOLLOW_UP_STATUS_CANCELLED FollowUpStatus = "cancelled"
	FOLLOW_UP_STATUS_FAILED    FollowUpStatus = "failed"
)

// ScheduledFollowUp is a durable deferred message, fired by the same
// scheduler loop as reverts.
type ScheduledFollowUp struct {
	Id          string         `json:"id"`
	DealId      string         `json:"dealId"`
	Message     string         `json:"message"`
	ScheduledAt time.Time      `json:"scheduledAt"`
	DueAt       time.Time      `json:"dueAt"`
	Status      FollowUpStatus `json:"status"`
	Reason      string         `json:"reason,omitempty"`
}

type MoveDealRequest struct {
	TargetPipelineId string `json:"targetPipelineId"`
	TargetStageId    string `json:"targetStageId"`
}

type UpdateStageRequest struct {
	StageId string         `json:"stageId"`
	Origin  ActivityOrigin `json:"origin,omitempty"`
}

type ManageTagsRequest struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

type CreateDealRequest struct {
	ContactId  string `json:"contactId"`
	PipelineId string `json:"pipelineId"`
	StageId    string `json:"stageId"`
}
