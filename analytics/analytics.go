package analytics

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
}

type DataCollectorType string

const LOG_FILE_DATA_COLLECTOR DataCollectorType = "LOG_FILE_DATA_COLLECTOR"
const NOOP_DATA_COLLECTOR DataCollectorType = "NOOP_DATA_COLLECTOR"

// FlowDataCollector records per-node outcomes for operator-facing run
// history.
type FlowDataCollector interface {
	RecordNodeSuccess(flowName string, executionId string, nodeId string, nodeType string, output map[string]any)
	RecordNodeFailure(flowName string, executionId string, nodeId string, nodeType string, reason string)
}

var flowCollector FlowDataCollector = noopCollector{}

func InitDataCollector(config DataCollectorConfig) error {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		c, err := NewLogFileDataCollector(config.FileName)
		if err != nil {
			return err
		}
		flowCollector = c
	default:
		flowCollector = noopCollector{}
	}
	return nil
}

func RecordNodeSuccess(flowName string, executionId string, nodeId string, nodeType string, output map[string]any) {
	flowCollector.RecordNodeSuccess(flowName, executionId, nodeId, nodeType, output)
}

func RecordNodeFailure(flowName string, executionId string, nodeId string, nodeType string, reason string) {
	flowCollector.RecordNodeFailure(flowName, executionId, nodeId, nodeType, reason)
}

type noopCollector struct{}

func (noopCollector) RecordNodeSuccess(string, string, string, string, map[string]any) {}
func (noopCollector) RecordNodeFailure(string, string, string, string, string)         {}
