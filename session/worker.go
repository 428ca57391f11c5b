package session

import (
	"fmt"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// runWorker runs fn off the caller's goroutine and waits for it. A panic in
// fn is returned as *TaskError.
func (s *Session) runWorker(op string, fn func() error) error {
	var (
		wg  conc.WaitGroup
		err error
	)
	wg.Go(func() {
		err = fn()
	})
	if r := wg.WaitAndRecover(); r != nil {
		s.logger.Error("Worker panicked",
			zap.String("op", op),
			zap.Any("panic", r.Value),
			zap.ByteString("stack", r.Stack),
		)
		return &TaskError{Op: op, Panic: fmt.Sprint(r.Value)}
	}
	return err
}
