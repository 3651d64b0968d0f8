package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/scorelynx/internal/evaluation"
	"github.com/bl4ck0w1/scorelynx/internal/notify"
	"github.com/bl4ck0w1/scorelynx/internal/orchestration"
	"github.com/bl4ck0w1/scorelynx/internal/reporting"
	"github.com/bl4ck0w1/scorelynx/internal/storage"
	"github.com/bl4ck0w1/scorelynx/internal/suites"
	"github.com/bl4ck0w1/scorelynx/internal/suites/browser"
	"github.com/bl4ck0w1/scorelynx/internal/suites/network"
	"github.com/bl4ck0w1/scorelynx/internal/suites/serverleak"
	"github.com/bl4ck0w1/scorelynx/internal/suites/testssl"
	"github.com/bl4ck0w1/scorelynx/internal/suites/webappversion"
	"github.com/bl4ck0w1/scorelynx/internal/worker"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

// RegisterDefaults makes every key of the default configuration known to
// viper, which lets SCORELYNX_* environment variables override any of them.
func RegisterDefaults() error {
	data, err := yaml.Marshal(models.DefaultConfig())
	if err != nil {
		return err
	}
	doc := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	setDefaults("", doc)
	return nil
}

func setDefaults(prefix string, doc map[string]interface{}) {
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := v.(map[string]interface{}); ok && len(m) > 0 {
			setDefaults(key, m)
			continue
		}
		viper.SetDefault(key, v)
	}
}

// LoadConfig merges defaults, the config file, environment and flags.
func LoadConfig() (*models.Config, error) {
	cfg := models.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if cfg.Global.ScanHost == "" {
		cfg.Global.ScanHost = utils.Hostname()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds the components shared by the commands. Everything it opens is
// released by Close.
type app struct {
	cfg       *models.Config
	logger    *logrus.Logger
	store     storage.ScanStore
	metrics   *utils.MetricsCollector
	evaluator *evaluation.Evaluator
	registry  *suites.Registry
	redis     *redis.Client
	closers   []io.Closer
}

func newApp() (*app, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := logrus.StandardLogger()

	store, err := storage.Open(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a := &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		metrics:   utils.NewMetricsCollector(cfg.API.Metrics),
		evaluator: evaluation.NewEvaluator(nil, nil),
	}
	a.closers = append(a.closers, store)
	return a, nil
}

// buildRegistry registers every enabled test suite.
func (a *app) buildRegistry() (*suites.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	cfg := a.cfg
	registry := suites.NewRegistry(a.logger)
	resolver := network.NewResolver(cfg.Suites.Network.Nameservers, cfg.Suites.Network.DNSTimeout, cfg.Suites.Network.RetryAttempts, a.logger)

	register := func(s suites.Suite, err error) error {
		if err != nil {
			return err
		}
		if c, ok := s.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
		return registry.Register(s)
	}

	if cfg.IsSuiteEnabled(network.Name) {
		s, err := network.New(cfg.Suites.Network, a.logger)
		if err = register(s, err); err != nil {
			return nil, fmt.Errorf("network suite: %w", err)
		}
	}
	if cfg.IsSuiteEnabled(testssl.HTTPSName) {
		s, err := testssl.NewHTTPS(cfg.Suites.TestSSL, resolver, a.logger)
		if err = register(s, err); err != nil {
			return nil, fmt.Errorf("testssl suite: %w", err)
		}
	}
	if cfg.IsSuiteEnabled(testssl.MXName) {
		if err := register(testssl.NewMX(cfg.Suites.TestSSL, resolver, a.logger), nil); err != nil {
			return nil, fmt.Errorf("testssl mx suite: %w", err)
		}
	}
	if cfg.IsSuiteEnabled(browser.Name) && cfg.Suites.Browser.Enabled {
		s, err := browser.New(cfg.Suites.Browser, a.logger)
		if err = register(s, err); err != nil {
			return nil, fmt.Errorf("browser suite: %w", err)
		}
	}
	if cfg.IsSuiteEnabled(serverleak.Name) {
		if err := register(serverleak.New(cfg.Suites.ServerLeak, a.logger), nil); err != nil {
			return nil, fmt.Errorf("serverleak suite: %w", err)
		}
	}
	if cfg.IsSuiteEnabled(webappversion.Name) {
		s, err := webappversion.New(cfg.Suites.WebAppVersion, a.logger)
		if err = register(s, err); err != nil {
			return nil, fmt.Errorf("webappversion suite: %w", err)
		}
	}

	a.registry = registry
	return registry, nil
}

func (a *app) dialRedis(ctx context.Context) (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := orchestration.DialRedis(ctx, a.cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.closers = append(a.closers, client)
	return client, nil
}

func (a *app) executor() (*orchestration.Executor, error) {
	registry, err := a.buildRegistry()
	if err != nil {
		return nil, err
	}
	return orchestration.NewExecutor(registry, a.cfg.Global.ScanHost, a.metrics, a.logger), nil
}

// orchestrator runs tasks in-process or hands them to Redis workers,
// depending on scanner.queue. With Redis, finished scans are also announced
// on the notification channel.
func (a *app) orchestrator(ctx context.Context) (*orchestration.Orchestrator, error) {
	registry, err := a.buildRegistry()
	if err != nil {
		return nil, err
	}

	var queue orchestration.TaskQueue
	switch a.cfg.Scanner.Queue {
	case "redis":
		client, err := a.dialRedis(ctx)
		if err != nil {
			return nil, err
		}
		queue = orchestration.NewRedisQueue(client, a.cfg.Redis.QueueKey, a.logger)
	default:
		exec, err := a.executor()
		if err != nil {
			return nil, err
		}
		queue = orchestration.NewLocalQueue(exec, a.cfg.Scanner.Concurrency)
	}
	a.closers = append(a.closers, queue)

	orch, err := orchestration.NewOrchestrator(registry, queue, a.store, a.cfg, a.metrics, a.logger)
	if err != nil {
		return nil, err
	}
	if a.redis != nil && a.cfg.Redis.NotifyChannel != "" {
		orch.SetNotifier(notify.NewPublisher(a.redis, a.cfg.Redis.NotifyChannel, a.evaluator, a.logger))
	}
	return orch, nil
}

func (a *app) worker(ctx context.Context) (*worker.Worker, error) {
	client, err := a.dialRedis(ctx)
	if err != nil {
		return nil, err
	}
	exec, err := a.executor()
	if err != nil {
		return nil, err
	}
	return worker.New(worker.Config{
		QueueKey:    a.cfg.Redis.QueueKey,
		ResultTTL:   a.cfg.Redis.ResultTTL,
		Concurrency: a.cfg.Scanner.Concurrency,
	}, client, exec, a.logger), nil
}

func (a *app) reportGenerator() (*reporting.ReportGenerator, error) {
	return reporting.NewReportGenerator(a.cfg.Reporting, reporting.NewRanker(a.evaluator), a.logger)
}

func (a *app) sweeper() *orchestration.Sweeper {
	return orchestration.NewSweeper(a.store, a.cfg.Scanner.AbortCeiling, a.metrics, a.logger)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
