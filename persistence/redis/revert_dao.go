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

const REVERT_KEY = "REVERT"
const REVERT_DUE_KEY = "REVERT_DUE"
const REVERT_BY_DEAL_KEY = "REVERT_DEAL"
const FOLLOW_UP_KEY = "FOLLOWUP"
const FOLLOW_UP_DUE_KEY = "FOLLOWUP_DUE"

var _ persistence.RevertStorage = new(redisRevertStorage)

type redisRevertStorage struct {
	*baseDao
	revertCodec   util.EncoderDecoder[model.ScheduledRevert]
	followUpCodec util.EncoderDecoder[model.ScheduledFollowUp]
}

func NewRevertStorage(baseDao *baseDao) *redisRevertStorage {
	return &redisRevertStorage{
		baseDao:       baseDao,
		revertCodec:   util.NewJsonEncoderDecoder[model.ScheduledRevert](),
		followUpCodec: util.NewJsonEncoderDecoder[model.ScheduledFollowUp](),
	}
}

// SaveRevert writes the record and, while it is still scheduled, keeps its
// due-queue entry. The due entry survives until RemoveDueRevert so a crash
// between poll and commit re-proposes the schedule id on restart.
func (r *redisRevertStorage) SaveRevert(revert *model.ScheduledRevert) error {
	data, err := r.revertCodec.Encode(*revert)
	if err != nil {
		return err
	}
	ctx := context.Background()
	_, err = r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.HSet(ctx, r.getNamespaceKey(REVERT_KEY), revert.ScheduleId, string(data))
		pipe.SAdd(ctx, r.getNamespaceKey(REVERT_BY_DEAL_KEY, revert.DealId), revert.ScheduleId)
		if revert.Status == model.REVERT_STATUS_SCHEDULED {
			pipe.ZAdd(ctx, r.getNamespaceKey(REVERT_DUE_KEY), rd.Z{
				Score:  float64(revert.ScheduledFor.UnixMilli()),
				Member: revert.ScheduleId,
			})
		}
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisRevertStorage) GetRevert(scheduleId string) (*model.ScheduledRevert, error) {
	ctx := context.Background()
	raw, err := r.redisClient.HGet(ctx, r.getNamespaceKey(REVERT_KEY), scheduleId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Kind: "scheduled revert", Id: scheduleId}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.revertCodec.Decode([]byte(raw))
}

func (r *redisRevertStorage) ListRevertsByDeal(dealId string) ([]model.ScheduledRevert, error) {
	ctx := context.Background()
	ids, err := r.redisClient.SMembers(ctx, r.getNamespaceKey(REVERT_BY_DEAL_KEY, dealId)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	reverts := make([]model.ScheduledRevert, 0, len(ids))
	for _, id := range ids {
		revert, err := r.GetRevert(id)
		if err != nil {
			var notFound model.NotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return nil, err
		}
		reverts = append(reverts, *revert)
	}
	return reverts, nil
}

func (r *redisRevertStorage) PollDueReverts(now time.Time, batchSize int) ([]string, error) {
	return r.pollDue(r.getNamespaceKey(REVERT_DUE_KEY), now, batchSize)
}

func (r *redisRevertStorage) RemoveDueRevert(scheduleId string) error {
	ctx := context.Background()
	if err := r.redisClient.ZRem(ctx, r.getNamespaceKey(REVERT_DUE_KEY), scheduleId).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisRevertStorage) SaveFollowUp(followUp *model.ScheduledFollowUp) error {
	data, err := r.followUpCodec.Encode(*followUp)
	if err != nil {
		return err
	}
	ctx := context.Background()
	_, err = r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.HSet(ctx, r.getNamespaceKey(FOLLOW_UP_KEY), followUp.Id, string(data))
		if followUp.Status == model.FOLLOW_UP_STATUS_SCHEDULED {
			pipe.ZAdd(ctx, r.getNamespaceKey(FOLLOW_UP_DUE_KEY), rd.Z{
				Score:  float64(followUp.DueAt.UnixMilli()),
				Member: followUp.Id,
			})
		}
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisRevertStorage) GetFollowUp(id string) (*model.ScheduledFollowUp, error) {
	ctx := context.Background()
	raw, err := r.redisClient.HGet(ctx, r.getNamespaceKey(FOLLOW_UP_KEY), id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, model.NotFoundError{Kind: "scheduled follow up", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.followUpCodec.Decode([]byte(raw))
}

func (r *redisRevertStorage) PollDueFollowUps(now time.Time, batchSize int) ([]string, error) {
	return r.pollDue(r.getNamespaceKey(FOLLOW_UP_DUE_KEY), now, batchSize)
}

func (r *redisRevertStorage) RemoveDueFollowUp(id string) error {
	ctx := context.Background()
	if err := r.redisClient.ZRem(ctx, r.getNamespaceKey(FOLLOW_UP_DUE_KEY), id).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisRevertStorage) pollDue(queueKey string, now time.Time, batchSize int) ([]string, error) {
	ctx := context.Background()
	opt := &rd.ZRangeBy{
		Min:   "0",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(batchSize),
	}
	values, err := r.redisClient.ZRangeByScore(ctx, queueKey, opt).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []string{}, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return values, nil
}

// PurgeTerminal removes executed, cancelled and failed records whose due
// time passed before olderThan. Scheduled records are never purged.
func (r *redisRevertStorage) PurgeTerminal(olderThan time.Time) (int, error) {
	ctx := context.Background()
	all, err := r.redisClient.HGetAll(ctx, r.getNamespaceKey(REVERT_KEY)).Result()
	if err != nil {
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	purged := 0
	for id, raw := range all {
		revert, err := r.revertCodec.Decode([]byte(raw))
		if err != nil {
			continue
		}
		if revert.Status == model.REVERT_STATUS_SCHEDULED {
			continue
		}
		if revert.ScheduledFor.After(olderThan) {
			continue
		}
		_, err = r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.HDel(ctx, r.getNamespaceKey(REVERT_KEY), id)
			pipe.SRem(ctx, r.getNamespaceKey(REVERT_BY_DEAL_KEY, revert.DealId), id)
			return nil
		})
		if err != nil {
			return purged, persistence.StorageLayerError{Message: err.Error()}
		}
		purged++
	}
	return purged, nil
}
