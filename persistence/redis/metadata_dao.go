package redis

import (
	"context"
	"errors"

	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/persistence"
	"github.com/marchworks/dealflow/util"
	rd "github.com/redis/go-redis/v9"
)

const WORKFLOW_DEF_KEY = "METADATA_WORKFLOW"

var _ persistence.MetadataStorage = new(redisMetadataStorage)

type redisMetadataStorage struct {
	*baseDao
	codec util.EncoderDecoder[model.Workflow]
}

func NewMetadataStorage(baseDao *baseDao) *redisMetadataStorage {
	return &redisMetadataStorage{
		baseDao: baseDao,
		codec:   util.NewJsonEncoderDecoder[model.Workflow](),
	}
}

func (r *redisMetadataStorage) SaveWorkflow(workflow *model.Workflow) error {
	data, err := r.codec.Encode(*workflow)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := r.redisClient.HSet(ctx, r.getNamespaceKey(WORKFLOW_DEF_KEY), workflow.Name, string(data)).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisMetadataStorage) GetWorkflow(name string) (*model.Workflow, error) {
	ctx := context.Background()
	raw, err := r.redisClient.HGet(ctx, r.getNamespaceKey(WORKFLOW_DEF_KEY), name).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Kind: "workflow", Id: name}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.codec.Decode([]byte(raw))
}

func (r *redisMetadataStorage) ListWorkflowNames() ([]string, error) {
	ctx := context.Background()
	names, err := r.redisClient.HKeys(ctx, r.getNamespaceKey(WORKFLOW_DEF_KEY)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return names, nil
}

func (r *redisMetadataStorage) DeleteWorkflow(name string) error {
	ctx := context.Background()
	if err := r.redisClient.HDel(ctx, r.getNamespaceKey(WORKFLOW_DEF_KEY), name).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
