package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marchworks/dealflow/logger"
	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/persistence"
	"github.com/marchworks/dealflow/pipeline"
	"github.com/marchworks/dealflow/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	revertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealflow_reverts_fired_total",
		Help: "Scheduled revert firing outcomes.",
	}, []string{"outcome"})
	followUpsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dealflow_follow_ups_fired_total",
		Help: "Scheduled follow ups sent.",
	})
)

// Messenger delivers a follow-up message. Channel integrations live
// outside this runtime; the agent injects the concrete transport.
type Messenger interface {
	Send(dealId string, message string) error
}

// Scheduler persists deferred actions and fires them when due. Due
// entries are durable records, not in-memory timers: on restart the
// firing loop re-evaluates everything scheduled in the past under the
// same no-op and suppression rules, so nothing double-executes.
type Scheduler struct {
	reverts     persistence.RevertStorage
	coordinator *pipeline.Coordinator
	messenger   Messenger

	firingLocks *util.KeyedMutex
	tickWorker  *util.TickWorker
	cron        *cron.Cron
	stop        chan struct{}
	wg          *sync.WaitGroup
	batchSize   int
	retention   time.Duration
	now         func() time.Time
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Retention    time.Duration
}

func NewScheduler(reverts persistence.RevertStorage, coordinator *pipeline.Coordinator, messenger Messenger, config Config, wg *sync.WaitGroup) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Retention <= 0 {
		config.Retention = 30 * 24 * time.Hour
	}
	s := &Scheduler{
		reverts:     reverts,
		coordinator: coordinator,
		messenger:   messenger,
		firingLocks: util.NewKeyedMutex(),
		cron:        cron.New(),
		stop:        make(chan struct{}),
		wg:          wg,
		batchSize:   config.BatchSize,
		retention:   config.Retention,
		now:         time.Now,
	}
	s.tickWorker = util.NewTickWorker("revert-scheduler", config.PollInterval, s.stop, s.poll, wg)
	return s
}

func (s *Scheduler) Start() {
	s.tickWorker.Start()
	_, err := s.cron.AddFunc("@daily", s.purge)
	if err != nil {
		logger.Error("error registering retention job", zap.Error(err))
	}
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	s.tickWorker.Stop()
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func delayFor(amount int, unit model.RevertTimeUnit) (time.Duration, error) {
	if amount <= 0 {
		return 0, model.ValidationError{Message: fmt.Sprintf("delay amount %d must be positive", amount)}
	}
	switch unit {
	case model.REVERT_UNIT_HOURS:
		return time.Duration(amount) * time.Hour, nil
	case model.REVERT_UNIT_DAYS:
		return time.Duration(amount) * 24 * time.Hour, nil
	default:
		return 0, model.ValidationError{Message: fmt.Sprintf("unknown delay unit %q", unit)}
	}
}

// ScheduleRevert computes scheduledFor once, at schedule time. Clock or
// config changes afterwards never move the due time.
func (s *Scheduler) ScheduleRevert(dealId string, flowExecutionId string, config model.RevertConfig) (string, error) {
	delay, err := delayFor(config.Amount, config.Unit)
	if err != nil {
		return "", err
	}
	if _, err := s.coordinator.GetDeal(dealId); err != nil {
		return "", err
	}
	now := s.now()
	revert := &model.ScheduledRevert{
		ScheduleId:            uuid.NewString(),
		DealId:                dealId,
		FlowExecutionId:       flowExecutionId,
		RevertToStageId:       config.ToStageId,
		ScheduledAt:           now,
		ScheduledFor:          now.Add(delay),
		RevertTimeAmount:      config.Amount,
		RevertTimeUnit:        config.Unit,
		OnlyIfNoActivity:      config.OnlyIfNoActivity,
		IgnoreOwnFlowActivity: config.IgnoreOwnFlowActivity,
		Status:                model.REVERT_STATUS_SCHEDULED,
	}
	if err := s.reverts.SaveRevert(revert); err != nil {
		return "", err
	}
	logger.Info("revert scheduled", zap.String("scheduleId", revert.ScheduleId), zap.String("dealId", dealId), zap.Time("scheduledFor", revert.ScheduledFor))
	return revert.ScheduleId, nil
}

func (s *Scheduler) ScheduleFollowUp(dealId string, message string, amount int, unit model.RevertTimeUnit) (string, error) {
	delay, err := delayFor(amount, unit)
	if err != nil {
		return "", err
	}
	now := s.now()
	followUp := &model.ScheduledFollowUp{
		Id:          uuid.NewString(),
		DealId:      dealId,
		Message:     message,
		ScheduledAt: now,
		DueAt:       now.Add(delay),
		Status:      model.FOLLOW_UP_STATUS_SCHEDULED,
	}
	if err := s.reverts.SaveFollowUp(followUp); err != nil {
		return "", err
	}
	return followUp.Id, nil
}

func (s *Scheduler) ListReverts(dealId string) ([]model.ScheduledRevert, error) {
	return s.reverts.ListRevertsByDeal(dealId)
}

// Cancel is valid only while the action is still scheduled. Once firing
// has started for a schedule id the firing lock is held, so a concurrent
// cancel blocks and then observes the terminal status: a conflict, never
// a rollback of an applied stage change.
func (s *Scheduler) Cancel(scheduleId string) error {
	s.firingLocks.Lock(scheduleId)
	defer s.firingLocks.Unlock(scheduleId)

	revert, err := s.reverts.GetRevert(scheduleId)
	if err != nil {
		return err
	}
	if revert.Status != model.REVERT_STATUS_SCHEDULED {
		return model.ScheduleConflict{ScheduleId: scheduleId, Status: revert.Status}
	}
	revert.Status = model.REVERT_STATUS_CANCELLED
	if err := s.reverts.SaveRevert(revert); err != nil {
		return err
	}
	if err := s.reverts.RemoveDueRevert(scheduleId); err != nil {
		return err
	}
	logger.Info("revert cancelled", zap.String("scheduleId", scheduleId))
	return nil
}

func (s *Scheduler) poll() {
	now := s.now()
	dueReverts, err := s.reverts.PollDueReverts(now, s.batchSize)
	if err != nil {
		logger.Error("error polling due reverts", zap.Error(err))
	} else {
		for _, scheduleId := range dueReverts {
			s.FireRevert(scheduleId)
		}
	}
	dueFollowUps, err := s.reverts.PollDueFollowUps(now, s.batchSize)
	if err != nil {
		logger.Error("error polling due follow ups", zap.Error(err))
		return
	}
	for _, id := range dueFollowUps {
		s.fireFollowUp(id)
	}
}

// FireRevert re-validates everything at due time: deal state may have been
// mutated by other flows or operators since scheduling. The status check
// and the stage commit both run inside the coordinator's deal critical
// section, where move invalidation also runs, so an invalidated revert is
// never applied and a terminal record is never overwritten. Firing is
// idempotent per schedule id; a second firing of a terminal record only
// clears its due entry.
func (s *Scheduler) FireRevert(scheduleId string) {
	s.firingLocks.Lock(scheduleId)
	defer s.firingLocks.Unlock(scheduleId)

	revert, err := s.reverts.GetRevert(scheduleId)
	if err != nil {
		logger.Error("due revert not readable", zap.String("scheduleId", scheduleId), zap.Error(err))
		_ = s.reverts.RemoveDueRevert(scheduleId)
		return
	}
	if revert.Status != model.REVERT_STATUS_SCHEDULED {
		_ = s.reverts.RemoveDueRevert(scheduleId)
		return
	}
	if revert.OnlyIfNoActivity {
		suppressed, err := s.hasSuppressingActivity(revert)
		if err != nil {
			logger.Error("error evaluating activity suppression", zap.String("scheduleId", scheduleId), zap.Error(err))
			return
		}
		if suppressed {
			s.finish(revert, model.REVERT_STATUS_CANCELLED, model.REVERT_REASON_ACTIVITY_DETECTED, "suppressed")
			return
		}
	}
	settled, applied, err := s.coordinator.ApplyScheduledRevert(scheduleId)
	if err != nil {
		// the due entry stays; the next poll retries
		logger.Error("error applying revert", zap.String("scheduleId", scheduleId), zap.Error(err))
		return
	}
	if err := s.reverts.RemoveDueRevert(scheduleId); err != nil {
		logger.Error("error removing due entry", zap.String("scheduleId", scheduleId), zap.Error(err))
	}
	switch {
	case settled.Status == model.REVERT_STATUS_FAILED:
		revertsFired.WithLabelValues("failed").Inc()
	case applied:
		revertsFired.WithLabelValues("executed").Inc()
	case settled.Status == model.REVERT_STATUS_EXECUTED:
		revertsFired.WithLabelValues("noop").Inc()
	}
	logger.Info("revert settled", zap.String("scheduleId", scheduleId), zap.String("status", string(settled.Status)))
}

// hasSuppressingActivity checks for any recorded activity between schedule
// time and now. Whether activity generated by the scheduling flow run
// itself counts is configurable per revert.
func (s *Scheduler) hasSuppressingActivity(revert *model.ScheduledRevert) (bool, error) {
	activities, err := s.coordinator.ListActivities(revert.DealId, revert.ScheduledAt)
	if err != nil {
		return false, err
	}
	for _, activity := range activities {
		if revert.IgnoreOwnFlowActivity && len(revert.FlowExecutionId) != 0 && activity.FlowExecutionId == revert.FlowExecutionId {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (s *Scheduler) finish(revert *model.ScheduledRevert, status model.RevertStatus, reason string, outcome string) {
	revert.Status = status
	revert.Reason = reason
	if err := s.reverts.SaveRevert(revert); err != nil {
		logger.Error("error persisting revert outcome", zap.String("scheduleId", revert.ScheduleId), zap.Error(err))
		return
	}
	if err := s.reverts.RemoveDueRevert(revert.ScheduleId); err != nil {
		logger.Error("error removing due entry", zap.String("scheduleId", revert.ScheduleId), zap.Error(err))
	}
	revertsFired.WithLabelValues(outcome).Inc()
	logger.Info("revert settled", zap.String("scheduleId", revert.ScheduleId), zap.String("status", string(status)), zap.String("reason", reason))
}

func (s *Scheduler) fireFollowUp(id string) {
	s.firingLocks.Lock(id)
	defer s.firingLocks.Unlock(id)

	followUp, err := s.reverts.GetFollowUp(id)
	if err != nil {
		logger.Error("due follow up not readable", zap.String("id", id), zap.Error(err))
		_ = s.reverts.RemoveDueFollowUp(id)
		return
	}
	if followUp.Status != model.FOLLOW_UP_STATUS_SCHEDULED {
		_ = s.reverts.RemoveDueFollowUp(id)
		return
	}
	if err := s.messenger.Send(followUp.DealId, followUp.Message); err != nil {
		followUp.Status = model.FOLLOW_UP_STATUS_FAILED
		followUp.Reason = err.Error()
	} else {
		followUp.Status = model.FOLLOW_UP_STATUS_SENT
		followUpsFired.Inc()
		_ = s.coordinator.RecordActivity(followUp.DealId, model.ACTIVITY_KIND_MESSAGE, model.ACTIVITY_ORIGIN_AUTOMATED, "", "follow up sent")
	}
	if err := s.reverts.SaveFollowUp(followUp); err != nil {
		logger.Error("error persisting follow up outcome", zap.String("id", id), zap.Error(err))
		return
	}
	_ = s.reverts.RemoveDueFollowUp(id)
}

func (s *Scheduler) purge() {
	purged, err := s.reverts.PurgeTerminal(s.now().Add(-s.retention))
	if err != nil {
		logger.Error("error purging terminal reverts", zap.Error(err))
		return
	}
	if purged > 0 {
		logger.Info("purged terminal reverts", zap.Int("count", purged))
	}
}

// SetClock is for tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}
