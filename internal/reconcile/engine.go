package reconcile

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

type op struct {
	fn   func(*State) error
	done chan error
}

// Engine owns a State and applies feed changes and local operations to
// it one at a time on the goroutine running Run.
type Engine struct {
	state    *State
	logger   *logger.Logger
	ops      chan op
	onUpdate func(*State)
}

// NewEngine wraps state. onUpdate, if set, runs on the loop goroutine
// after every applied change or operation.
func NewEngine(state *State, onUpdate func(*State), log *logger.Logger) *Engine {
	return &Engine{
		state:    state,
		logger:   log,
		ops:      make(chan op),
		onUpdate: onUpdate,
	}
}

// Run processes changes until ctx is done or changes is closed.
func (e *Engine) Run(ctx context.Context, changes <-chan model.Change) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch, ok := <-changes:
			if !ok {
				return nil
			}
			if err := e.state.Apply(ctx, ch); err != nil {
				e.logger.Warn("Failed to apply change",
					zap.String("table", string(ch.Table)),
					zap.String("row_id", ch.RowID),
					zap.Error(err),
				)
				continue
			}
			e.notify()
		case o := <-e.ops:
			err := o.fn(e.state)
			o.done <- err
			if err == nil {
				e.notify()
			}
		}
	}
}

// Do runs fn on the loop goroutine and waits for it.
func (e *Engine) Do(ctx context.Context, fn func(*State) error) error {
	o := op{fn: fn, done: make(chan error, 1)}
	select {
	case e.ops <- o:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-o.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) notify() {
	if e.onUpdate != nil {
		e.onUpdate(e.state)
	}
}
