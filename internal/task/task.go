package task

import (
	"encoding/json"

	"Treasury-Rebalancer/internal/config"
	xerrors "Treasury-Rebalancer/internal/errors"
	"Treasury-Rebalancer/internal/rebalancer"
)

// Status 表示一次运行请求在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// 触发来源
const (
	SourceAPI  = "api"
	SourceCron = "cron"
)

// Run 描述了排队执行的一次再平衡。
type Run struct {
	ID        string             `json:"id"`
	Network   string             `json:"network"`
	Mode      config.Mode        `json:"mode"`
	Source    string             `json:"source"`
	Status    Status             `json:"status"`
	LastError string             `json:"last_error,omitempty"`
	ErrorCode string             `json:"error_code,omitempty"`
	Result    *rebalancer.Result `json:"result,omitempty"`
	CreatedAt int64              `json:"created_at"`
	UpdatedAt int64              `json:"updated_at"`
}

// Message 是队列中传递的运行触发，携带足够的信息让其他进程也能执行。
type Message struct {
	ID      string      `json:"id"`
	Network string      `json:"network"`
	Mode    config.Mode `json:"mode"`
	Source  string      `json:"source"`
}

func (m Message) encode() ([]byte, error) {
	return json.Marshal(m)
}

func decodeMessage(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "无法解析队列消息")
	}
	if m.ID == "" || m.Network == "" {
		return Message{}, xerrors.New(xerrors.CodeQueueFailure, "队列消息缺少 id 或 network")
	}
	return m, nil
}

var (
	// ErrRunNotFound 表示指定的运行不存在。
	ErrRunNotFound = xerrors.New(xerrors.CodeNotFound, "run not found")
	// ErrRunConflict 表示运行已在执行中。
	ErrRunConflict = xerrors.New(xerrors.CodeConflict, "run already in flight", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrRunCompleted 表示运行已经结束，不会再次执行。
	ErrRunCompleted = xerrors.New(CodeRunCompleted, "run already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeRunCompleted xerrors.Code = "RUN_COMPLETED"
	CodeRunPublish   xerrors.Code = "RUN_PUBLISH_FAILED"
)

func init() {
	xerrors.Register(CodeRunCompleted, xerrors.Attributes{
		Message:  "run already completed",
		Severity: xerrors.SeverityInfo,
		Class:    xerrors.ClassInternal,
		Alert:    false,
	})
	xerrors.Register(CodeRunPublish, xerrors.Attributes{
		Message:  "failed to publish run",
		Severity: xerrors.SeverityCritical,
		Class:    xerrors.ClassCollaborator,
		Alert:    true,
	})
}

func cloneRun(run *Run) *Run {
	clone := *run
	if run.Result != nil {
		result := *run.Result
		clone.Result = &result
	}
	return &clone
}

// IsTerminal 报告状态是否已结束。
func IsTerminal(status Status) bool {
	return status == StatusSucceeded || status == StatusFailed
}
