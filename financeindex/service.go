package financeindex

import (
	"context"

	"github.com/veritaschain/consensus-core/events"
	"github.com/veritaschain/consensus-core/internal/log"
	"github.com/veritaschain/consensus-core/internal/service"
	"github.com/veritaschain/consensus-core/store"
	"github.com/veritaschain/consensus-core/types"
)

const subscriber = "FinanceIndexService"

// Service connects the event bus to a finance-index Sink, indexing
// every finalized height and aggregate commit that crosses BLOCK_NEW
// events, the way the teacher's indexer.Service connects its event
// bus to tx/block event sinks.
type Service struct {
	service.BaseService

	logger log.Logger
	bus    *events.Bus
	sink   Sink
	store  *store.Store
}

// NewService returns a service that indexes into sink every block
// the bus emits that carries a non-empty aggregate commit.
func NewService(logger log.Logger, bus *events.Bus, sink Sink, s *store.Store) *Service {
	logger = logger.With("module", "financeindex")
	svc := &Service{logger: logger, bus: bus, sink: sink, store: s}
	svc.BaseService = *service.NewBaseService(logger, "FinanceIndexService", svc)
	return svc
}

// OnStart subscribes to the event bus and begins draining it on a
// background goroutine, matching the teacher's IndexerService.OnStart.
func (svc *Service) OnStart(ctx context.Context) error {
	ch := svc.bus.Subscribe(subscriber)
	go svc.run(ctx, ch)
	return nil
}

// OnStop unsubscribes from the event bus and closes the sink; the
// drain goroutine exits once the (now closed) channel is drained.
func (svc *Service) OnStop() {
	svc.bus.Unsubscribe(subscriber)
	if err := svc.sink.Stop(); err != nil {
		svc.logger.Error("financeindex: closing sink", "err", err)
	}
}

func (svc *Service) run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind != events.BlockNew || ev.Header == nil || ev.Header.AggregateCommit == nil || ev.Header.AggregateCommit.Empty() {
				continue
			}
			svc.index(ev.Header.AggregateCommit)
		case <-ctx.Done():
			return
		}
	}
}

// index records the aggregate commit itself and the finality of the
// height it attests to. The block id for that height is resolved from
// local storage rather than carried on the event, since the commit
// embedded in header H always attests to a height below H (spec.md
// §3): by the time H reaches this bus, the attested block is already
// on disk.
func (svc *Service) index(ac *types.AggregateCommit) {
	if err := svc.sink.IndexAggregateCommit(ac); err != nil {
		svc.logger.Error("financeindex: indexing aggregate commit", "height", ac.Height, "err", err)
		return
	}

	b, err := svc.store.LoadBlockByHeight(ac.Height)
	if err != nil {
		svc.logger.Error("financeindex: loading attested block", "height", ac.Height, "err", err)
		return
	}
	if b == nil {
		svc.logger.Error("financeindex: attested block missing from local store", "height", ac.Height)
		return
	}
	if err := svc.sink.IndexFinalizedHeight(ac.Height, b.Header.ID(), b.Header.Time()); err != nil {
		svc.logger.Error("financeindex: indexing finalized height", "height", ac.Height, "err", err)
	}
}
