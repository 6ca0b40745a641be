package analytics

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogFileDataCollector struct {
	fileName string
	logger   *zap.Logger
}

func NewLogFileDataCollector(fileName string) (*LogFileDataCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	writer := zapcore.AddSync(logFile)
	core := zapcore.NewTee(zapcore.NewCore(fileEncoder, writer, zapcore.InfoLevel))
	return &LogFileDataCollector{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (lc *LogFileDataCollector) RecordNodeSuccess(flowName string, executionId string, nodeId string, nodeType string, output map[string]any) {
	lc.logger.Info("success", zap.String("flow", flowName), zap.String("execution", executionId), zap.String("node", nodeId), zap.String("type", nodeType), zap.Any("output", output))
}

func (lc *LogFileDataCollector) RecordNodeFailure(flowName string, executionId string, nodeId string, nodeType string, reason string) {
	lc.logger.Info("failure", zap.String("flow", flowName), zap.String("execution", executionId), zap.String("node", nodeId), zap.String("type", nodeType), zap.String("reason", reason))
}
