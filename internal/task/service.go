package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"Treasury-Rebalancer/internal/config"
	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/pkg/logger"
)

// Request 描述一次运行触发。
type Request struct {
	// ID 可选，用于幂等提交。
	ID      string
	Network string
	Mode    string
	Source  string
}

// Service 负责运行的创建与查询。
type Service struct {
	store    Store
	producer Producer
	networks *config.Networks
}

// NewService 构造运行服务。
func NewService(store Store, producer Producer, networks *config.Networks) *Service {
	return &Service{store: store, producer: producer, networks: networks}
}

// Submit 校验触发参数，创建运行记录并推送到队列。同一 ID 重复提交返回已有记录。
func (s *Service) Submit(ctx context.Context, req Request) (*Run, error) {
	if s.store == nil || s.producer == nil || s.networks == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化")
	}
	network, err := s.networks.Get(req.Network)
	if err != nil {
		return nil, err
	}
	mode, err := config.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = SourceAPI
	}

	runID := strings.TrimSpace(req.ID)
	if runID != "" {
		existing, err := s.store.Get(ctx, runID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrRunNotFound) {
			return nil, err
		}
	} else {
		runID = uuid.NewString()
	}

	run := &Run{
		ID:      runID,
		Network: network.Name,
		Mode:    mode,
		Source:  source,
		Status:  StatusPending,
	}
	if err := s.store.Create(ctx, run); err != nil {
		if stdErrors.Is(err, ErrRunConflict) {
			if existing, getErr := s.store.Get(ctx, runID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	msg := Message{ID: run.ID, Network: run.Network, Mode: run.Mode, Source: run.Source}
	if err := s.producer.Publish(ctx, msg); err != nil {
		logger.L().Error("运行入队失败", slog.Any("error", err), slog.String("run_id", runID))
		wrapped := xerrors.Wrap(CodeRunPublish, err, "发布运行到队列失败")
		_ = s.store.MarkFailed(ctx, runID, CodeRunPublish, wrapped.Error(), nil)
		return nil, wrapped
	}
	logger.Audit().Info("运行入队成功",
		slog.String("run_id", runID),
		slog.String("network", run.Network),
		slog.String("mode", string(run.Mode)),
		slog.String("source", run.Source),
	)
	return run, nil
}

// Get 返回指定运行的状态。
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回最近的运行。
func (s *Service) List(ctx context.Context, limit int) ([]*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	return s.store.List(ctx, limit)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 轮询直到运行结束或 ctx 取消。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Run, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if IsTerminal(run.Status) {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
