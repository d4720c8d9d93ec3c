package goroutine

import (
	"context"
	"time"
)

// Runner выполняет побочные эффекты, которые не должны влиять на результат операции.
type Runner interface {
	Run(ctx context.Context, name string, fn func(ctx context.Context))
}

// AsyncRunner запускает задачу в отдельной горутине, отвязанной от отмены запроса.
type AsyncRunner struct {
	rh      *RecoveryHandler
	timeout time.Duration
}

// NewAsyncRunner создаёт runner с ограничением времени на задачу.
func NewAsyncRunner(rh *RecoveryHandler, timeout time.Duration) *AsyncRunner {
	if rh == nil {
		rh = DefaultRecoveryHandler
	}
	return &AsyncRunner{rh: rh, timeout: timeout}
}

// Run реализует Runner.
func (r *AsyncRunner) Run(ctx context.Context, name string, fn func(ctx context.Context)) {
	detached := context.WithoutCancel(ctx)
	r.rh.SafeGo(func() {
		taskCtx := detached
		if r.timeout > 0 {
			var cancel context.CancelFunc
			taskCtx, cancel = context.WithTimeout(detached, r.timeout)
			defer cancel()
		}
		defer r.rh.recover(name)
		fn(taskCtx)
	})
}

// InlineRunner выполняет задачу синхронно. Паника не выходит за пределы Run.
type InlineRunner struct {
	rh *RecoveryHandler
}

// NewInlineRunner создаёт синхронный runner.
func NewInlineRunner(rh *RecoveryHandler) *InlineRunner {
	if rh == nil {
		rh = DefaultRecoveryHandler
	}
	return &InlineRunner{rh: rh}
}

// Run реализует Runner.
func (r *InlineRunner) Run(ctx context.Context, name string, fn func(ctx context.Context)) {
	defer r.rh.recover(name)
	fn(ctx)
}
