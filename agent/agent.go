package agent

import (
	"net/http"
	"sync"

	"github.com/marchworks/dealflow/analytics"
	"github.com/marchworks/dealflow/config"
	"github.com/marchworks/dealflow/engine"
	"github.com/marchworks/dealflow/logger"
	"github.com/marchworks/dealflow/metadata"
	"github.com/marchworks/dealflow/node"
	"github.com/marchworks/dealflow/persistence"
	redisdao "github.com/marchworks/dealflow/persistence/redis"
	"github.com/marchworks/dealflow/pipeline"
	"github.com/marchworks/dealflow/rest"
	"github.com/marchworks/dealflow/sandbox"
	"github.com/marchworks/dealflow/scheduler"
	"go.uber.org/zap"
)

// Agent assembles the runtime: storage, coordinator, scheduler, flow
// engine and the http surface, started and stopped as one unit.
type Agent struct {
	Config config.Config

	dealStorage     persistence.DealStorage
	revertStorage   persistence.RevertStorage
	flowStorage     persistence.FlowStorage
	metadataStorage persistence.MetadataStorage

	coordinator     *pipeline.Coordinator
	scheduler       *scheduler.Scheduler
	sandboxExecutor *sandbox.Executor
	metadataService metadata.MetadataService
	flowEngine      *engine.FlowEngine
	httpServer      *rest.Server

	shutdown     bool
	shutdowns    chan struct{}
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	a := &Agent{
		Config:    config,
		shutdowns: make(chan struct{}),
	}
	setup := []func() error{
		a.setupAnalytics,
		a.setupStorage,
		a.setupCoordinator,
		a.setupScheduler,
		a.setupFlowEngine,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupAnalytics() error {
	return analytics.InitDataCollector(a.Config.AnalyticsConfig)
}

func (a *Agent) setupStorage() error {
	baseDao := redisdao.NewBaseDao(redisdao.Config{
		Addrs:     a.Config.RedisConfig.Addrs,
		Namespace: a.Config.RedisConfig.Namespace,
		Password:  a.Config.RedisConfig.Password,
		PoolSize:  a.Config.RedisConfig.PoolSize,
	})
	a.dealStorage = redisdao.NewDealStorage(baseDao)
	a.revertStorage = redisdao.NewRevertStorage(baseDao)
	a.flowStorage = redisdao.NewFlowStorage(baseDao)
	a.metadataStorage = redisdao.NewMetadataStorage(baseDao)
	return nil
}

func (a *Agent) setupCoordinator() error {
	a.coordinator = pipeline.NewCoordinator(a.dealStorage, a.revertStorage)
	return nil
}

func (a *Agent) setupScheduler() error {
	a.scheduler = scheduler.NewScheduler(a.revertStorage, a.coordinator, &followUpMessenger{}, scheduler.Config{
		PollInterval: a.Config.SchedulerConfig.PollInterval,
		BatchSize:    a.Config.SchedulerConfig.BatchSize,
		Retention:    a.Config.SchedulerConfig.Retention,
	}, &a.wg)
	a.scheduler.Start()
	return nil
}

func (a *Agent) setupFlowEngine() error {
	a.sandboxExecutor = sandbox.NewExecutor(&http.Client{})
	deps := node.Dependencies{
		Sandbox:     a.sandboxExecutor,
		HttpClient:  &http.Client{},
		Coordinator: a.coordinator,
		Scheduler:   a.scheduler,
		Messenger:   &logMessenger{},
		Translator:  &identityTranslator{},
		Evaluator:   node.NewEvaluator(),
	}
	var err error
	a.metadataService, err = metadata.NewMetadataService(a.metadataStorage, deps)
	if err != nil {
		return err
	}
	a.flowEngine = engine.NewFlowEngine(a.metadataService, a.flowStorage)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.metadataService, a.flowEngine, a.coordinator, a.scheduler, a.sandboxExecutor)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	go func() {
		if err := a.httpServer.Start(); err != nil && err != http.ErrServerClosed {
			_ = a.Shutdown()
			panic(err)
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	close(a.shutdowns)

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			a.scheduler.Stop()
			return nil
		},
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return nil
}

// logMessenger stands in for the channel integrations. It satisfies both
// the node and scheduler messenger ports, so a deployment without a real
// transport still runs end to end.
type logMessenger struct{}

func (m *logMessenger) Send(channel string, to string, text string) error {
	logger.Info("message send", zap.String("channel", channel), zap.String("to", to), zap.String("text", text))
	return nil
}

type followUpMessenger struct{}

func (m *followUpMessenger) Send(dealId string, message string) error {
	logger.Info("follow up send", zap.String("dealId", dealId), zap.String("message", message))
	return nil
}

type identityTranslator struct{}

func (t *identityTranslator) Translate(text string, targetLang string) (string, error) {
	return text, nil
}
