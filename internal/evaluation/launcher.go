package evaluation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"agent-eval/pkg/logging"
)

// Launcher 评测执行启动器
//
// Launch 在调用方协程内同步完成 Prepare，然后把 Execute 提交到协程池。
// 池满时执行在池内排队（快照保持 processing、processed=0），有空闲协程后开始；
// 提交在独立协程中阻塞，调用方立即返回。执行体不被调用方等待，结果只通过
// 运行快照与持久化记录体现。只有池已关闭时提交才会失败，此时执行被标记为 failed。
type Launcher struct {
	orch   *Orchestrator
	pool   *ants.Pool
	logger *logging.Logger

	// 执行体共用的根上下文，Close 时取消
	ctx    context.Context
	cancel context.CancelFunc

	// 仍在等待提交的协程
	submits sync.WaitGroup
}

// NewLauncher 创建启动器，size 为同时执行的评测数上限
func NewLauncher(orch *Orchestrator, size int) (*Launcher, error) {
	if size <= 0 {
		return nil, fmt.Errorf("launcher pool size must be greater than 0")
	}
	logger := orch.logger
	pool, err := ants.NewPool(size,
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error("Evaluation worker panic", "panic", fmt.Sprint(p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create launcher pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Launcher{
		orch:   orch,
		pool:   pool,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Launch 启动一次执行
//
// Prepare 失败或池已关闭时返回错误；此时执行已被标记为 failed。
// 池满不是错误：执行排队等待空闲协程。
func (l *Launcher) Launch(ctx context.Context, runID, credential string) error {
	exec, err := l.orch.Prepare(ctx, runID, credential)
	if err != nil {
		return fmt.Errorf("prepare run %s: %w", runID, err)
	}

	if l.pool.IsClosed() {
		l.reject(ctx, exec, ants.ErrPoolClosed)
		return fmt.Errorf("launch run %s: %w", runID, ants.ErrPoolClosed)
	}

	registry := l.orch.Registry()
	registry.Add(exec.live)

	if l.pool.Free() == 0 {
		l.logger.WithRunID(runID).Info("Evaluation run queued", "waiting", l.pool.Waiting()+1)
	}

	task := func() {
		defer registry.Remove(runID)
		l.orch.Execute(l.ctx, exec)
	}
	l.submits.Add(1)
	go func() {
		defer l.submits.Done()
		// 阻塞模式下池满时 Submit 等待空闲协程，只在池关闭时返回错误
		if err := l.pool.Submit(task); err != nil {
			registry.Remove(runID)
			l.reject(l.ctx, exec, err)
		}
	}()

	l.logger.WithRunID(runID).Info("Evaluation run launched", "total", exec.Total())
	return nil
}

// reject 记录被拒绝的提交并把执行标记为 failed
func (l *Launcher) reject(ctx context.Context, exec *Execution, cause error) {
	l.orch.metrics.LaunchRejected.Inc()
	l.logger.WithRunID(exec.runID).WithError(cause).Error("Launch rejected")
	l.orch.Fail(ctx, exec, fmt.Errorf("launch failed: %w", cause))
}

// Waiting 排队等待空闲协程的评测数
func (l *Launcher) Waiting() int {
	return l.pool.Waiting()
}

// Running 正在执行的评测数
func (l *Launcher) Running() int {
	return l.pool.Running()
}

// Capacity 协程池容量
func (l *Launcher) Capacity() int {
	return l.pool.Cap()
}

// Close 取消进行中的执行并等待其写入终态
//
// 关闭后仍在排队的执行被标记为 failed。
func (l *Launcher) Close(timeout time.Duration) error {
	l.cancel()
	err := l.pool.ReleaseTimeout(timeout)
	l.submits.Wait()
	return err
}
