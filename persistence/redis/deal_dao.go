package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/persistence"
	"github.com/marchworks/dealflow/util"
	rd "github.com/redis/go-redis/v9"
)

const DEAL_KEY = "DEAL"
const PIPELINE_KEY = "PIPELINE"
const ACTIVE_DEAL_KEY = "ACTIVE"
const ACTIVITY_KEY = "ACTIVITY"

var _ persistence.DealStorage = new(redisDealStorage)

type redisDealStorage struct {
	*baseDao
	dealCodec     util.EncoderDecoder[model.Deal]
	pipelineCodec util.EncoderDecoder[model.Pipeline]
	activityCodec util.EncoderDecoder[model.Activity]
}

func NewDealStorage(baseDao *baseDao) *redisDealStorage {
	return &redisDealStorage{
		baseDao:       baseDao,
		dealCodec:     util.NewJsonEncoderDecoder[model.Deal](),
		pipelineCodec: util.NewJsonEncoderDecoder[model.Pipeline](),
		activityCodec: util.NewJsonEncoderDecoder[model.Activity](),
	}
}

func (r *redisDealStorage) activeKey(contactId string, pipelineId string) string {
	return r.getNamespaceKey(ACTIVE_DEAL_KEY, contactId, pipelineId)
}

// SaveDeal writes the deal record and keeps the active-deal index in step
// within one transaction. previous is the record as it was before the
// mutation, nil on create.
func (r *redisDealStorage) SaveDeal(deal *model.Deal, previous *model.Deal) error {
	data, err := r.dealCodec.Encode(*deal)
	if err != nil {
		return err
	}
	ctx := context.Background()
	_, err = r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.HSet(ctx, r.getNamespaceKey(DEAL_KEY), deal.Id, string(data))
		if previous != nil && previous.Status == model.DEAL_STATUS_ACTIVE {
			if previous.PipelineId != deal.PipelineId || deal.Status != model.DEAL_STATUS_ACTIVE {
				pipe.Del(ctx, r.activeKey(previous.ContactId, previous.PipelineId))
			}
		}
		if deal.Status == model.DEAL_STATUS_ACTIVE {
			pipe.Set(ctx, r.activeKey(deal.ContactId, deal.PipelineId), deal.Id, 0)
		}
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisDealStorage) GetDeal(dealId string) (*model.Deal, error) {
	ctx := context.Background()
	raw, err := r.redisClient.HGet(ctx, r.getNamespaceKey(DEAL_KEY), dealId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Kind: "deal", Id: dealId}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.dealCodec.Decode([]byte(raw))
}

// GetActiveDeal returns nil when the contact has no active deal in the
// pipeline. A dangling index entry is treated as absent.
func (r *redisDealStorage) GetActiveDeal(contactId string, pipelineId string) (*model.Deal, error) {
	ctx := context.Background()
	dealId, err := r.redisClient.Get(ctx, r.activeKey(contactId, pipelineId)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	deal, err := r.GetDeal(dealId)
	if err != nil {
		var notFound model.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	if deal.Status != model.DEAL_STATUS_ACTIVE || deal.PipelineId != pipelineId {
		return nil, nil
	}
	return deal, nil
}

func (r *redisDealStorage) ListDeals() ([]model.Deal, error) {
	ctx := context.Background()
	values, err := r.redisClient.HGetAll(ctx, r.getNamespaceKey(DEAL_KEY)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	deals := make([]model.Deal, 0, len(values))
	for _, raw := range values {
		deal, err := r.dealCodec.Decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		deals = append(deals, *deal)
	}
	return deals, nil
}

func (r *redisDealStorage) SavePipeline(pipeline *model.Pipeline) error {
	data, err := r.pipelineCodec.Encode(*pipeline)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := r.redisClient.HSet(ctx, r.getNamespaceKey(PIPELINE_KEY), pipeline.Id, string(data)).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisDealStorage) GetPipeline(pipelineId string) (*model.Pipeline, error) {
	ctx := context.Background()
	raw, err := r.redisClient.HGet(ctx, r.getNamespaceKey(PIPELINE_KEY), pipelineId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Kind: "pipeline", Id: pipelineId}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.pipelineCodec.Decode([]byte(raw))
}

func (r *redisDealStorage) AddActivity(activity *model.Activity) error {
	data, err := r.activityCodec.Encode(*activity)
	if err != nil {
		return err
	}
	ctx := context.Background()
	member := rd.Z{
		Score:  float64(activity.At.UnixMilli()),
		Member: string(data),
	}
	if err := r.redisClient.ZAdd(ctx, r.getNamespaceKey(ACTIVITY_KEY, activity.DealId), member).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisDealStorage) ListActivities(dealId string, since time.Time) ([]model.Activity, error) {
	ctx := context.Background()
	opt := &rd.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}
	values, err := r.redisClient.ZRangeByScore(ctx, r.getNamespaceKey(ACTIVITY_KEY, dealId), opt).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	activities := make([]model.Activity, 0, len(values))
	for _, raw := range values {
		activity, err := r.activityCodec.Decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		activities = append(activities, *activity)
	}
	return activities, nil
}
