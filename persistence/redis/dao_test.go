package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/marchworks/dealflow/model"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestDao(t *testing.T) *baseDao {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	return NewBaseDaoFromClient(client, "test")
}

func TestDealStorageActiveIndex(t *testing.T) {
	storage := NewDealStorage(newTestDao(t))

	deal := &model.Deal{
		Id:         "d1",
		ContactId:  "c1",
		PipelineId: "p1",
		StageId:    "s1",
		Status:     model.DEAL_STATUS_ACTIVE,
	}
	require.NoError(t, storage.SaveDeal(deal, nil))

	active, err := storage.GetActiveDeal("c1", "p1")
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, "d1", active.Id)

	// moving to another pipeline clears the old index entry
	previous := *deal
	deal.PipelineId = "p2"
	require.NoError(t, storage.SaveDeal(deal, &previous))

	active, err = storage.GetActiveDeal("c1", "p1")
	require.NoError(t, err)
	require.Nil(t, active)
	active, err = storage.GetActiveDeal("c1", "p2")
	require.NoError(t, err)
	require.NotNil(t, active)

	// closing the deal clears the index
	previous = *deal
	deal.Status = model.DEAL_STATUS_WON
	require.NoError(t, storage.SaveDeal(deal, &previous))
	active, err = storage.GetActiveDeal("c1", "p2")
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestDealStorageActivities(t *testing.T) {
	storage := NewDealStorage(newTestDao(t))
	base := time.Now().Truncate(time.Millisecond)

	for i, origin := range []model.ActivityOrigin{model.ACTIVITY_ORIGIN_MANUAL, model.ACTIVITY_ORIGIN_AUTOMATED} {
		require.NoError(t, storage.AddActivity(&model.Activity{
			DealId: "d1",
			Kind:   model.ACTIVITY_KIND_STAGE_CHANGE,
			Origin: origin,
			At:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := storage.ListActivities("d1", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, all, 2)

	recent, err := storage.ListActivities("d1", base.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, model.ACTIVITY_ORIGIN_AUTOMATED, recent[0].Origin)
}

func TestRevertStorageDueQueue(t *testing.T) {
	storage := NewRevertStorage(newTestDao(t))
	now := time.Now()

	due := &model.ScheduledRevert{
		ScheduleId:      "r1",
		DealId:          "d1",
		RevertToStageId: "s1",
		ScheduledAt:     now.Add(-time.Hour),
		ScheduledFor:    now.Add(-time.Minute),
		Status:          model.REVERT_STATUS_SCHEDULED,
	}
	future := &model.ScheduledRevert{
		ScheduleId:      "r2",
		DealId:          "d1",
		RevertToStageId: "s1",
		ScheduledAt:     now,
		ScheduledFor:    now.Add(time.Hour),
		Status:          model.REVERT_STATUS_SCHEDULED,
	}
	require.NoError(t, storage.SaveRevert(due))
	require.NoError(t, storage.SaveRevert(future))

	ids, err := storage.PollDueReverts(now, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"r1"}, ids)

	// still proposed until explicitly removed: restart safety
	ids, err = storage.PollDueReverts(now, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"r1"}, ids)

	require.NoError(t, storage.RemoveDueRevert("r1"))
	ids, err = storage.PollDueReverts(now, 10)
	require.NoError(t, err)
	require.Empty(t, ids)

	reverts, err := storage.ListRevertsByDeal("d1")
	require.NoError(t, err)
	require.Len(t, reverts, 2)
}

func TestRevertStoragePurgeTerminal(t *testing.T) {
	storage := NewRevertStorage(newTestDao(t))
	now := time.Now()

	executed := &model.ScheduledRevert{
		ScheduleId:   "r1",
		DealId:       "d1",
		ScheduledFor: now.Add(-48 * time.Hour),
		Status:       model.REVERT_STATUS_EXECUTED,
	}
	scheduled := &model.ScheduledRevert{
		ScheduleId:   "r2",
		DealId:       "d1",
		ScheduledFor: now.Add(-48 * time.Hour),
		Status:       model.REVERT_STATUS_SCHEDULED,
	}
	require.NoError(t, storage.SaveRevert(executed))
	require.NoError(t, storage.SaveRevert(scheduled))

	purged, err := storage.PurgeTerminal(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	_, err = storage.GetRevert("r1")
	require.Error(t, err)
	_, err = storage.GetRevert("r2")
	require.NoError(t, err)
}

func TestFlowStorageRecentOutputs(t *testing.T) {
	storage := NewFlowStorage(newTestDao(t))

	execution := &model.ExecutionContext{
		Id:       "e1",
		FlowName: "welcome",
		Data: map[string]any{
			"contact":               map[string]any{"phone": "123"},
			"code_execution_output": map[string]any{"orderId": "ord-1"},
		},
		State: model.FLOW_STATE_COMPLETED,
	}
	require.NoError(t, storage.SaveExecution(execution))

	outputs, err := storage.ListRecentOutputs("welcome", 10)
	require.NoError(t, err)
	require.Contains(t, outputs, "code_execution_output")
	require.NotContains(t, outputs, "contact")
}
