package redis

import (
	"context"
	"errors"
	"strings"

	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/persistence"
	"github.com/marchworks/dealflow/util"
	"github.com/marchworks/dealflow/variables"
	rd "github.com/redis/go-redis/v9"
)

const EXECUTION_KEY = "EXECUTION"
const EXECUTION_RECENT_KEY = "EXECUTION_RECENT"

var _ persistence.FlowStorage = new(redisFlowStorage)

type redisFlowStorage struct {
	*baseDao
	codec util.EncoderDecoder[model.ExecutionContext]
}

func NewFlowStorage(baseDao *baseDao) *redisFlowStorage {
	return &redisFlowStorage{
		baseDao: baseDao,
		codec:   util.NewJsonEncoderDecoder[model.ExecutionContext](),
	}
}

func (r *redisFlowStorage) SaveExecution(execution *model.ExecutionContext) error {
	data, err := r.codec.Encode(*execution)
	if err != nil {
		return err
	}
	ctx := context.Background()
	recentKey := r.getNamespaceKey(EXECUTION_RECENT_KEY, execution.FlowName)
	_, err = r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.HSet(ctx, r.getNamespaceKey(EXECUTION_KEY), execution.Id, string(data))
		pipe.LPush(ctx, recentKey, execution.Id)
		pipe.LTrim(ctx, recentKey, 0, 99)
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisFlowStorage) GetExecution(id string) (*model.ExecutionContext, error) {
	ctx := context.Background()
	raw, err := r.redisClient.HGet(ctx, r.getNamespaceKey(EXECUTION_KEY), id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Kind: "execution", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.codec.Decode([]byte(raw))
}

// ListRecentOutputs collects node output namespaces from the flow's recent
// executions. It backs the lazy refresh of the captured category.
func (r *redisFlowStorage) ListRecentOutputs(flowName string, limit int) (map[string]any, error) {
	ctx := context.Background()
	recentKey := r.getNamespaceKey(EXECUTION_RECENT_KEY, flowName)
	ids, err := r.redisClient.LRange(ctx, recentKey, 0, int64(limit-1)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return map[string]any{}, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	outputs := make(map[string]any)
	for _, id := range ids {
		execution, err := r.GetExecution(id)
		if err != nil {
			continue
		}
		for key, value := range execution.Data {
			if isOutputNamespace(key) {
				outputs[key] = value
			}
		}
	}
	return outputs, nil
}

func isOutputNamespace(key string) bool {
	for _, cat := range variables.Categories() {
		if key == cat {
			return false
		}
	}
	return strings.HasSuffix(key, "_output")
}
