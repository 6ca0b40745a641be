package model

// Typed node configs. Every string field may carry {{category.field}}
// tokens, resolved against the execution's variable store right before the
// node runs. Configs are decoded and validated at flow save time, so
// malformed config never reaches the engine.

type CodeExecConfig struct {
	Code      string `json:"code" mapstructure:"code"`
	TimeoutMs int    `json:"timeoutMs" mapstructure:"timeoutMs"`
}

type HttpCallConfig struct {
	Method  string            `json:"method" mapstructure:"method"`
	Url     string            `json:"url" mapstructure:"url"`
	Headers map[string]string `json:"headers" mapstructure:"headers"`
	Body    string            `json:"body" mapstructure:"body"`
}

type ConditionalConfig struct {
	Expression string `json:"expression" mapstructure:"expression"`
}

type MessageSendConfig struct {
	Channel string `json:"channel" mapstructure:"channel"`
	To      string `json:"to" mapstructure:"to"`
	Text    string `json:"text" mapstructure:"text"`
}

type RevertTimeUnit string

const (
	REVERT_UNIT_HOURS RevertTimeUnit = "hours"
	REVERT_UNIT_DAYS  RevertTimeUnit = "days"
)

// RevertConfig is the stage-revert sub-record of a pipeline_update node.
// It is optional as a whole; an enabled revert always carries its target
// stage and delay.
type RevertConfig struct {
	ToStageId             string         `json:"toStageId" mapstructure:"toStageId"`
	Amount                int            `json:"amount" mapstructure:"amount"`
	Unit                  RevertTimeUnit `json:"unit" mapstructure:"unit"`
	OnlyIfNoActivity      bool           `json:"onlyIfNoActivity" mapstructure:"onlyIfNoActivity"`
	IgnoreOwnFlowActivity bool           `json:"ignoreOwnFlowActivity" mapstructure:"ignoreOwnFlowActivity"`
}

type PipelineUpdateConfig struct {
	DealId           string        `json:"dealId" mapstructure:"dealId"`
	TargetPipelineId string        `json:"targetPipelineId" mapstructure:"targetPipelineId"`
	TargetStageId    string        `json:"targetStageId" mapstructure:"targetStageId"`
	Revert           *RevertConfig `json:"revert,omitempty" mapstructure:"revert"`
}

type TagManageConfig struct {
	DealId string   `json:"dealId" mapstructure:"dealId"`
	Add    []string `json:"add" mapstructure:"add"`
	Remove []string `json:"remove" mapstructure:"remove"`
}

type TranslateConfig struct {
	Text            string `json:"text" mapstructure:"text"`
	TargetLang      string `json:"targetLang" mapstructure:"targetLang"`
	SeparateMessage bool   `json:"separateMessage" mapstructure:"separateMessage"`
}

type FollowUpConfig struct {
	DealId  string         `json:"dealId" mapstructure:"dealId"`
	Message string         `json:"message" mapstructure:"message"`
	Amount  int            `json:"amount" mapstructure:"amount"`
	Unit    RevertTimeUnit `json:"unit" mapstructure:"unit"`
}
