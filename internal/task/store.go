package task

import (
	"context"

	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/rebalancer"
)

// Store 抽象了运行状态的保存接口。进程之间不共享状态，重启后记录丢失。
type Store interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	Claim(ctx context.Context, id string) (*Run, error)
	MarkSucceeded(ctx context.Context, id string, result *rebalancer.Result) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, result *rebalancer.Result) error
	List(ctx context.Context, limit int) ([]*Run, error)
	Close() error
}
