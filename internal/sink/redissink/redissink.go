// Package redissink implements the Redis raw-mode sinker (spec.md §4.2):
// it replays RedisEntry commands verbatim against a target Redis
// instance, the same way the teacher's MongoSink replays MySQL rows, but
// without a row model in between — Redis is addressed by the Redis
// parallelizer's per-shard sinkers, each of which is one of these.
package redissink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sdlhq/dflow/internal/logutil"
	"github.com/sdlhq/dflow/internal/meta"
)

// Sink implements sink.Sinker against a single Redis node (or a single
// shard of a cluster — the Redis parallelizer already resolved routing
// before SinkRaw is called, so Sink itself stays cluster-agnostic).
type Sink struct {
	id     string
	client *redis.Client
	dbID   int
}

func New(id, addr, password string, db int) *Sink {
	return &Sink{
		id:     id,
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		dbID:   db,
	}
}

func (s *Sink) GetID() string { return s.id }
func (s *Sink) Close() error  { return s.client.Close() }

func (s *Sink) RefreshMeta(schema, table string) {}

// SinkDML is unreachable in practice: Redis only participates as a
// raw-mode target, so nothing ever builds a meta.RowData for it. Returning
// an error surfaces a misconfiguration (e.g. a parallelizer wired wrong)
// instead of silently dropping rows.
func (s *Sink) SinkDML(ctx context.Context, rows []*meta.RowData) error {
	if len(rows) == 0 {
		return nil
	}
	return fmt.Errorf("redissink: received %d row-model events; redis is a raw-mode-only target", len(rows))
}

func (s *Sink) SinkDDL(ctx context.Context, ddl *meta.DdlData) error {
	// Redis has no schema to mutate; DDL events are acknowledged and
	// dropped, same as the teacher logs-and-skips events it can't apply.
	logutil.Info("redissink: ignoring DDL event (no schema concept in redis)")
	return nil
}

// SinkRaw replays one Redis command entry. Base (RDB snapshot) entries and
// streamed commands both carry the same Args shape, since by the time an
// entry reaches the sinker it's already a concrete command to issue.
func (s *Sink) SinkRaw(ctx context.Context, item *meta.DtItem) error {
	if item.Data.Kind != meta.DtRedis || item.Data.Redis == nil {
		return nil
	}
	e := item.Data.Redis
	if e.DbID != s.dbID {
		if err := s.client.Do(ctx, "SELECT", e.DbID).Err(); err != nil {
			return fmt.Errorf("redissink: select db %d: %w", e.DbID, err)
		}
		s.dbID = e.DbID
	}

	args := make([]interface{}, 0, len(e.Args)+1)
	args = append(args, e.CmdName)
	for _, a := range e.Args {
		args = append(args, a)
	}
	if err := s.client.Do(ctx, args...).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redissink: exec %s: %w", e.CmdName, err)
	}
	return nil
}
