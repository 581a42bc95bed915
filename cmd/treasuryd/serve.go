package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"Treasury-Rebalancer/internal/api"
	"Treasury-Rebalancer/internal/observability/alerting"
	"Treasury-Rebalancer/internal/task"
	"Treasury-Rebalancer/pkg/logger"
)

// storeCapacity 是 serve 模式在内存中保留的运行记录数。
const storeCapacity = 500

func (a *app) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the run processor and the optional cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	queue, locker, closeAll, err := a.buildQueue(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	store := task.NewMemoryStore(storeCapacity)
	service := task.NewService(store, queue, a.networks)
	processor := task.NewProcessor(task.ExecutorFunc(a.execute), store, queue,
		task.WithWorkerCount(a.cfg.TaskQueue.Workers),
		task.WithLocker(locker, a.cfg.Lock.TTL),
		task.WithAlertDispatcher(alerting.FromConfig(a.cfg.Alerting.Webhooks, a.cfg.Alerting.Timeout)),
		task.WithProcessorLogger(logger.Named("processor")),
	)
	server := api.NewServer(a.cfg.Server, service, a.networks)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return processor.Start(gctx) })
	g.Go(func() error { return server.Start(gctx) })

	if a.cfg.Schedule.Enabled {
		scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		_, err := scheduler.AddFunc(a.cfg.Schedule.Cron, func() {
			run, err := service.Submit(gctx, task.Request{
				Network: a.cfg.Network,
				Mode:    a.cfg.Schedule.Mode,
				Source:  task.SourceCron,
			})
			if err != nil {
				logger.L().Error("定时触发失败", slog.Any("error", err))
				return
			}
			logger.L().Info("定时触发已入队", slog.String("run_id", run.ID), slog.String("network", run.Network))
		})
		if err != nil {
			return err
		}
		scheduler.Start()
		logger.L().Info("定时任务已启动",
			slog.String("cron", a.cfg.Schedule.Cron),
			slog.String("network", a.cfg.Network),
			slog.String("mode", a.cfg.Schedule.Mode),
		)
		g.Go(func() error {
			<-gctx.Done()
			<-scheduler.Stop().Done()
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildQueue 根据配置创建触发队列与运行锁，返回的 closeAll 释放全部连接。
func (a *app) buildQueue(ctx context.Context) (task.Queue, task.Locker, func(), error) {
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.L().Warn("关闭连接失败", slog.Any("error", err))
			}
		}
	}

	redisCfg := task.RedisQueueConfig{
		Address:   a.cfg.TaskQueue.Redis.Address,
		Password:  a.cfg.TaskQueue.Redis.Password,
		DB:        a.cfg.TaskQueue.Redis.DB,
		Queue:     a.cfg.TaskQueue.Redis.Queue,
		BlockWait: a.cfg.TaskQueue.Redis.BlockWait,
	}
	var locker task.Locker = task.NewMemoryLocker()
	if a.cfg.Lock.Driver == "redis" || a.cfg.TaskQueue.Driver == "redis" {
		client, err := task.NewRedisClient(ctx, redisCfg)
		if err != nil {
			return nil, nil, func() {}, err
		}
		closers = append(closers, client.Close)
		if a.cfg.Lock.Driver == "redis" {
			if locker, err = task.NewRedisLocker(client); err != nil {
				closeAll()
				return nil, nil, func() {}, err
			}
		}
		if a.cfg.TaskQueue.Driver == "redis" {
			queue, err := task.NewRedisQueue(client, redisCfg)
			if err != nil {
				closeAll()
				return nil, nil, func() {}, err
			}
			return queue, locker, closeAll, nil
		}
	}

	switch a.cfg.TaskQueue.Driver {
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        a.cfg.TaskQueue.RabbitMQ.URL,
			Queue:      a.cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   a.cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    a.cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: a.cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			closeAll()
			return nil, nil, func() {}, err
		}
		closers = append(closers, queue.Close)
		return queue, locker, closeAll, nil
	default:
		queue := task.NewMemoryQueue(a.cfg.TaskQueue.Buffer)
		closers = append(closers, queue.Close)
		return queue, locker, closeAll, nil
	}
}
