package finder

import (
	"context"
	"time"

	"github.com/nmxmxh/otfkmc/internal/geomx"
	"github.com/nmxmxh/otfkmc/internal/otflog"
	"github.com/sony/gobreaker"
)

// saddleResult bundles a SaddleSearcher's two return cells so gobreaker's
// generic Execute, which carries a single result type, can wrap it.
type saddleResult struct {
	Saddle, Final *geomx.Cell
}

// searchBreaker wraps a SaddleSearcher so that a run of consecutive
// failed searches (spec.md §4.5's own fail_streak, made visible to
// gobreaker as ReadyToTrip) degrades dispatch from "retry immediately"
// to "log and move to the next unseen site" for a cooldown window,
// rather than hammering a site whose saddle search is structurally
// failing (SPEC_FULL.md §11).
type searchBreaker struct {
	inner SaddleSearcher
	cb    *gobreaker.CircuitBreaker[saddleResult]
	log   *otflog.Logger
}

func newSearchBreaker(inner SaddleSearcher, consecutive uint32, log *otflog.Logger) *searchBreaker {
	if log == nil {
		log = otflog.Default("finder.breaker")
	}
	sb := &searchBreaker{inner: inner, log: log}
	sb.cb = gobreaker.NewCircuitBreaker[saddleResult](gobreaker.Settings{
		Name:        "saddle-search",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutive
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", otflog.String("breaker", name),
				otflog.String("from", from.String()), otflog.String("to", to.String()))
		},
	})
	return sb
}

func (sb *searchBreaker) FindSaddle(ctx context.Context, initial *geomx.Cell, pot Potential) (*geomx.Cell, *geomx.Cell, error) {
	res, err := sb.cb.Execute(func() (saddleResult, error) {
		saddle, final, err := sb.inner.FindSaddle(ctx, initial, pot)
		if err != nil {
			return saddleResult{}, err
		}
		return saddleResult{Saddle: saddle, Final: final}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res.Saddle, res.Final, nil
}
