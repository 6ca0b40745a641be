package pipeline

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/persistence/redis"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	baseDao := redis.NewBaseDaoFromClient(client, "test")
	c := NewCoordinator(redis.NewDealStorage(baseDao), redis.NewRevertStorage(baseDao))
	require.NoError(t, c.SavePipeline(&model.Pipeline{
		Id:     "sales",
		Stages: []model.PipelineStage{{Id: "s1", Name: "New"}, {Id: "s2", Name: "Qualified"}},
	}))
	return c
}

func TestCreateDealRejectsSecondActive(t *testing.T) {
	c := newCoordinator(t)

	_, err := c.CreateDeal(model.CreateDealRequest{ContactId: "c1", PipelineId: "sales", StageId: "s1"})
	require.NoError(t, err)

	_, err = c.CreateDeal(model.CreateDealRequest{ContactId: "c1", PipelineId: "sales", StageId: "s1"})
	require.Error(t, err)
	require.True(t, model.IsInvariantViolation(err))

	// another contact is unaffected
	_, err = c.CreateDeal(model.CreateDealRequest{ContactId: "c2", PipelineId: "sales", StageId: "s1"})
	require.NoError(t, err)
}

func TestCreateDealRejectsUnknownStage(t *testing.T) {
	c := newCoordinator(t)

	_, err := c.CreateDeal(model.CreateDealRequest{ContactId: "c1", PipelineId: "sales", StageId: "nope"})
	var validation model.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestConcurrentCreatesAdmitExactlyOne(t *testing.T) {
	c := newCoordinator(t)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.CreateDeal(model.CreateDealRequest{ContactId: "c1", PipelineId: "sales", StageId: "s1"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var won, blocked int
	for err := range results {
		switch {
		case err == nil:
			won++
		case model.IsInvariantViolation(err):
			blocked++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, workers-1, blocked)
}

func TestConcurrentMovesIntoPipelineAdmitExactlyOne(t *testing.T) {
	c := newCoordinator(t)

	// one source pipeline per deal, all moving into sales
	const deals = 8
	ids := make([]string, 0, deals)
	for i := 0; i < deals; i++ {
		pipelineId := fmt.Sprintf("src-%d", i)
		require.NoError(t, c.SavePipeline(&model.Pipeline{
			Id:     pipelineId,
			Stages: []model.PipelineStage{{Id: "start"}},
		}))
		deal, err := c.CreateDeal(model.CreateDealRequest{ContactId: "c1", PipelineId: pipelineId, StageId: "start"})
		require.NoError(t, err)
		ids = append(ids, deal.Id)
	}

	var wg sync.WaitGroup
	results := make(chan error, deals)
	for _, id := range ids {
		wg.Add(1)
		go func(dealId string) {
			defer wg.Done()
			_, err := c.MoveDeal(dealId, "sales", "s1", model.ACTIVITY_ORIGIN_MANUAL, "")
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	var won, blocked int
	for err := range results {
		switch {
		case err == nil:
			won++
		case model.IsInvariantViolation(err):
			blocked++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, deals-1, blocked)
}

func TestManageTagsDeduplicates(t *testing.T) {
	c := newCoordinator(t)

	deal, err := c.CreateDeal(model.CreateDealRequest{ContactId: "c1", PipelineId: "sales", StageId: "s1"})
	require.NoError(t, err)

	deal, err = c.ManageTags(deal.Id, []string{"hot", "vip", "hot"}, nil, model.ACTIVITY_ORIGIN_MANUAL, "")
	require.NoError(t, err)
	require.Equal(t, []string{"hot", "vip"}, deal.Tags)

	deal, err = c.ManageTags(deal.Id, []string{"vip"}, []string{"hot"}, model.ACTIVITY_ORIGIN_MANUAL, "")
	require.NoError(t, err)
	require.Equal(t, []string{"vip"}, deal.Tags)
}

func TestStageChangeRecordsOrigin(t *testing.T) {
	c := newCoordinator(t)

	deal, err := c.CreateDeal(model.CreateDealRequest{ContactId: "c1", PipelineId: "sales", StageId: "s1"})
	require.NoError(t, err)

	_, err = c.UpdateStage(deal.Id, "s2", model.ACTIVITY_ORIGIN_AUTOMATED, "exec1")
	require.NoError(t, err)

	activities, err := c.ListActivities(deal.Id, time.Time{})
	require.NoError(t, err)
	require.Len(t, activities, 1)
	require.Equal(t, model.ACTIVITY_KIND_STAGE_CHANGE, activities[0].Kind)
	require.Equal(t, model.ACTIVITY_ORIGIN_AUTOMATED, activities[0].Origin)
	require.Equal(t, "exec1", activities[0].FlowExecutionId)
}
