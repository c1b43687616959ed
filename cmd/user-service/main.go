package main

import (
	"context"
	"flag"
	"fmt"
	golog "log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/httpclient"
	"github.com/acronis/go-appkit/httpserver"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/service"

	"github.com/ishan/user-service/internal/httpapi"
	"github.com/ishan/user-service/internal/importing"
	"github.com/ishan/user-service/internal/jobs"
	"github.com/ishan/user-service/internal/ratelimit"
)

const serviceNameInURL = "user_service"

const serviceEnvPrefix = "user_service"

func main() {
	configPath := flag.String("config", "config.yml", "path to the configuration file")
	flag.Parse()

	if err := runApp(*configPath); err != nil {
		golog.Fatal(err)
	}
}

func runApp(configPath string) error {
	cfg, err := loadAppConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RateLimit.Redis.Address,
		DB:       cfg.RateLimit.Redis.DB,
		Password: cfg.RateLimit.Redis.Password,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client", log.Error(err))
		}
	}()

	store := ratelimit.NewRedisStore(redisClient, time.Duration(cfg.RateLimit.StoreCallTimeout), logger)
	if err := store.EnableExpiryNotifications(context.Background()); err != nil {
		// Managed Redis often denies CONFIG SET. The sweeper still reclaims
		// orphans, just on a longer schedule.
		logger.Warn("keyspace expiry notifications unavailable, relying on sweeper", log.Error(err))
	}

	admissionMetrics := ratelimit.NewPrometheusMetrics()
	admissionMetrics.MustRegister()
	defer admissionMetrics.Unregister()

	tiers := cfg.RateLimit.TierTable()
	guard := ratelimit.NewGuardWithOpts(store, tiers, logger, ratelimit.GuardOpts{
		SafetyKeyTTL: time.Duration(cfg.RateLimit.SafetyKeyTTL),
		Metrics:      admissionMetrics,
	})

	userStore, err := importing.OpenUserStore(cfg.Import.DB.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := userStore.Close(); err != nil {
			logger.Error("close users db", log.Error(err))
		}
	}()

	outboundClient, err := httpclient.New(cfg.Import.Client)
	if err != nil {
		return fmt.Errorf("create outbound http client: %w", err)
	}
	randomUsers := importing.NewRandomUserClientWithOpts(
		outboundClient, cfg.Import.RandomUser.BaseURL, logger,
		importing.RandomUserClientOpts{Nationalities: cfg.Import.RandomUser.Nationalities},
	)
	importer := importing.NewImporter(randomUsers, userStore, cfg.Import.BatchSize)

	statuses := jobs.NewKVStatusStore(store, time.Duration(cfg.Jobs.StatusTTL))
	runner := jobs.NewRunnerWithOpts(guard, statuses, importer.Run, logger, jobs.RunnerOpts{
		WorkerPoolSize:   cfg.Jobs.WorkerPoolSize,
		ProgressInterval: cfg.Jobs.ProgressInterval,
	})

	httpServer, err := makeHTTPServer(cfg, logger, runner, statuses, userStore, redisClient)
	if err != nil {
		return err
	}

	serviceUnits := []service.Unit{
		httpServer,
		runner,
		ratelimit.NewExpiryListenerWithOpts(store, logger, ratelimit.ExpiryListenerOpts{Metrics: admissionMetrics}),
	}
	if cfg.RateLimit.Sweeper.Enabled {
		sweeper := ratelimit.NewSweeperWithOpts(store, logger, ratelimit.SweeperOpts{Metrics: admissionMetrics})
		sweeperWorker := service.NewPeriodicWorker(
			sweeper, time.Duration(cfg.RateLimit.Sweeper.Interval), logger.With(log.String("worker", "sweeper")))
		serviceUnits = append(serviceUnits, service.NewWorkerUnit(sweeperWorker))
	}

	return service.New(logger, service.NewCompositeUnit(serviceUnits...)).Start()
}

func makeHTTPServer(
	cfg *AppConfig,
	logger log.FieldLogger,
	runner *jobs.Runner,
	statuses jobs.StatusStore,
	userStore *importing.UserStore,
	redisClient *redis.Client,
) (*httpserver.HTTPServer, error) {
	api := &httpapi.API{
		Runner:   runner,
		Statuses: statuses,
		Users:    userStore,
		Logger:   logger,
	}
	opts := httpserver.Opts{
		ServiceNameInURL: serviceNameInURL,
		ErrorDomain:      httpapi.ErrorDomain,
		APIRoutes: map[httpserver.APIVersion]httpserver.APIRoute{
			1: api.Routes,
		},
		HealthCheckContext: func(ctx context.Context) (httpserver.HealthCheckResult, error) {
			result := httpserver.HealthCheckResult{"redis": httpserver.HealthCheckStatusOK}
			if err := redisClient.Ping(ctx).Err(); err != nil {
				result["redis"] = httpserver.HealthCheckStatusFail
				return result, err
			}
			return result, nil
		},
	}
	return httpserver.New(cfg.Server, logger, opts)
}

func loadAppConfig(path string) (*AppConfig, error) {
	cfgLoader := config.NewDefaultLoader(serviceEnvPrefix)
	cfg := NewAppConfig()
	err := cfgLoader.LoadFromFile(path, config.DataTypeYAML, cfg)
	return cfg, err
}
