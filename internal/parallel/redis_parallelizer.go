package parallel

import (
	"context"
	"fmt"
	"sync"

	"github.com/sdlhq/dflow/internal/meta"
	"github.com/sdlhq/dflow/internal/redisproto"
	"github.com/sdlhq/dflow/internal/sink"
)

// Redis fans Redis raw-mode items out across the configured sinkers
// (one per logical shard of the destination cluster) by cluster keyslot,
// concurrently per shard, exactly as ape-dts's
// dt-parallelizer/src/redis_parallelizer.rs does with per-node
// tokio::spawn+join. A multi-key command whose keys span more than one
// slot is rejected rather than silently split (cluster protocol forbids
// cross-slot multi-key commands); a slot-less command (SWAPDB, FLUSHALL,
// ...) is broadcast to every shard.
type Redis struct{}

func NewRedis() *Redis { return &Redis{} }

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Drain(ctx context.Context, items []*meta.DtItem, sinkers []sink.Sinker, idCols IDColsFunc) error {
	if len(sinkers) == 0 {
		return fmt.Errorf("parallel: redis: no sinkers configured")
	}

	byShard := make(map[int][]*meta.DtItem)
	var broadcast []*meta.DtItem

	for _, it := range items {
		if it.Data.Kind != meta.DtRedis {
			continue
		}
		entry := it.Data.Redis
		if redisproto.IsSlotless(entry.CmdName) {
			broadcast = append(broadcast, it)
			continue
		}
		if len(entry.Keys) == 0 {
			// No keys to route by (e.g. a base RDB entry with an
			// already-known DbID/key elsewhere) — treat as broadcast
			// rather than silently dropping it.
			broadcast = append(broadcast, it)
			continue
		}
		slots := redisproto.SlotsForKeys(entry.Keys)
		if len(slots) > 1 {
			return fmt.Errorf("parallel: redis: cross-slot command %s touches %d slots, keys=%v",
				entry.CmdName, len(slots), entry.Keys)
		}
		var slot int
		for s := range slots {
			slot = s
		}
		shard := slot % len(sinkers)
		byShard[shard] = append(byShard[shard], it)
	}

	if err := r.sinkShards(ctx, byShard, sinkers); err != nil {
		return err
	}
	return r.sinkBroadcast(ctx, broadcast, sinkers)
}

func (r *Redis) sinkShards(ctx context.Context, byShard map[int][]*meta.DtItem, sinkers []sink.Sinker) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(byShard))
	for shard, itms := range byShard {
		wg.Add(1)
		go func(shard int, itms []*meta.DtItem) {
			defer wg.Done()
			for _, it := range itms {
				if err := sinkers[shard].SinkRaw(ctx, it); err != nil {
					errCh <- err
					return
				}
			}
		}(shard, itms)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Redis) sinkBroadcast(ctx context.Context, items []*meta.DtItem, sinkers []sink.Sinker) error {
	for _, it := range items {
		var wg sync.WaitGroup
		errCh := make(chan error, len(sinkers))
		for _, s := range sinkers {
			wg.Add(1)
			go func(s sink.Sinker) {
				defer wg.Done()
				errCh <- s.SinkRaw(ctx, it)
			}(s)
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			if err != nil {
				return err
			}
		}
	}
	return nil
}
