package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"Treasury-Rebalancer/internal/config"
	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/observability/alerting"
	"Treasury-Rebalancer/internal/rebalancer"
	"Treasury-Rebalancer/pkg/logger"
)

// Executor 执行一次指定网络与模式的再平衡。
type Executor interface {
	Execute(ctx context.Context, network string, mode config.Mode) (*rebalancer.Result, error)
}

// ExecutorFunc 允许普通函数作为 Executor。
type ExecutorFunc func(ctx context.Context, network string, mode config.Mode) (*rebalancer.Result, error)

// Execute 实现 Executor。
func (f ExecutorFunc) Execute(ctx context.Context, network string, mode config.Mode) (*rebalancer.Result, error) {
	return f(ctx, network, mode)
}

// Processor 负责从队列消费运行触发并交给编排器执行。运行失败不会重试。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	locker      Locker
	lockTTL     time.Duration
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	clock       func() time.Time
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithLocker 配置运行锁，默认为进程内锁。
func WithLocker(locker Locker, ttl time.Duration) ProcessorOption {
	return func(p *Processor) {
		if locker != nil {
			p.locker = locker
		}
		if ttl > 0 {
			p.lockTTL = ttl
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		locker:      NewMemoryLocker(),
		lockTTL:     10 * time.Minute,
		workerCount: 1,
		logger:      logger.Named("processor"),
		clock:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动处理循环，直到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置运行消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, msg Message) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	// 其他进程投递的触发在本地没有记录。
	if _, err := p.store.Get(ctx, msg.ID); stdErrors.Is(err, ErrRunNotFound) {
		err := p.store.Create(ctx, &Run{ID: msg.ID, Network: msg.Network, Mode: msg.Mode, Source: msg.Source})
		if err != nil && !stdErrors.Is(err, ErrRunConflict) {
			return err
		}
	}

	run, err := p.store.Claim(ctx, msg.ID)
	if err != nil {
		if stdErrors.Is(err, ErrRunCompleted) || stdErrors.Is(err, ErrRunConflict) {
			p.logger.Debug("跳过运行", slog.String("run_id", msg.ID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取运行失败", slog.Any("error", err), slog.String("run_id", msg.ID))
		return err
	}

	release, err := p.locker.Acquire(ctx, LockPrefix+run.Network, p.lockTTL)
	if err != nil {
		p.fail(ctx, run, nil, err)
		return nil
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			p.logger.Error("释放运行锁失败", slog.Any("error", relErr), slog.String("network", run.Network))
		}
	}()

	result, execErr := p.executor.Execute(ctx, run.Network, run.Mode)
	if execErr != nil {
		p.fail(ctx, run, result, execErr)
		return nil
	}
	if err := p.store.MarkSucceeded(ctx, run.ID, result); err != nil {
		p.logger.Error("标记运行成功状态失败", slog.Any("error", err), slog.String("run_id", run.ID))
		return err
	}
	attrs := []any{
		slog.String("run_id", run.ID),
		slog.String("network", run.Network),
		slog.String("mode", string(run.Mode)),
	}
	if result != nil {
		attrs = append(attrs,
			slog.String("rebalancer_run_id", result.RunID),
			slog.Int("operations", result.Operations),
			slog.String("tx_hash", result.TxHash),
		)
	}
	logger.Audit().Info("运行成功", attrs...)
	return nil
}

func (p *Processor) fail(ctx context.Context, run *Run, result *rebalancer.Result, cause error) {
	code := xerrors.CodeOf(cause)
	if storeErr := p.store.MarkFailed(ctx, run.ID, code, cause.Error(), result); storeErr != nil {
		p.logger.Error("标记运行失败状态出错", slog.Any("error", storeErr), slog.String("run_id", run.ID))
	}
	logger.Audit().Warn("运行失败",
		slog.String("run_id", run.ID),
		slog.String("network", run.Network),
		slog.String("mode", string(run.Mode)),
		slog.String("error", cause.Error()),
		slog.String("error_code", string(code)),
	)
	if code == xerrors.CodeConflict {
		return
	}
	p.emitAlert(ctx, run, code, cause)
}

func (p *Processor) emitAlert(ctx context.Context, run *Run, code xerrors.Code, cause error) {
	if p.alerter == nil {
		return
	}
	event := alerting.Event{
		Code:       code,
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		RunID:      run.ID,
		Network:    run.Network,
		Mode:       string(run.Mode),
		Attempts:   1,
		Metadata:   map[string]string{"source": run.Source},
		OccurredAt: p.clock(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("run_id", run.ID))
	}
}
