package adapters

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"flakepin/internal/ports"
)

// InterruptGuard holds back SIGINT and SIGTERM while a critical section runs
// and reports a signal that arrived meanwhile once the section is over.
type InterruptGuard struct {
	Signals []os.Signal
}

func NewInterruptGuard() InterruptGuard {
	return InterruptGuard{Signals: []os.Signal{os.Interrupt, syscall.SIGTERM}}
}

func (g InterruptGuard) Run(ctx context.Context, name string, fn func() error) error {
	signals := g.Signals
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	caught := make(chan os.Signal, 1)
	signal.Notify(caught, signals...)
	err := func() error {
		defer signal.Stop(caught)
		return fn()
	}()
	select {
	case sig := <-caught:
		log.Ctx(ctx).Warn().Str("section", name).Str("signal", sig.String()).Msg("interrupt deferred until section finished")
		interrupted := errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("interrupted by %s during %s", sig, name))
		if err != nil {
			return interrupted.WithCause(err)
		}
		return interrupted
	default:
		return err
	}
}

var _ ports.CriticalSectionPort = InterruptGuard{}
