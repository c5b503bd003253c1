// Package mongosink implements the document-store sinker, adapted from
// the teacher's main.go MongoSink almost method-for-method: the same
// batch staging (pending -> committed -> archived) for crash recovery,
// the same transaction-with-fallback write path, and the same transient-
// error backoff — generalized from MySQL/GTID-only to any meta.Position
// and from the teacher's fixed EventDoc shape to meta.RowData.
package mongosink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/sdlhq/dflow/internal/logutil"
	"github.com/sdlhq/dflow/internal/meta"
)

// delta is one column's before/after pair in a change document, the same
// shape as the teacher's Delta{F,T any}.
type delta struct {
	F interface{} `bson:"f,omitempty"`
	T interface{} `bson:"t,omitempty"`
}

type eventDoc struct {
	ID       string           `bson:"_id"`
	TS       time.Time        `bson:"ts"`
	OP       string           `bson:"op"`
	Schema   string           `bson:"schema"`
	Table    string           `bson:"table"`
	Chg      map[string]delta `bson:"chg,omitempty"`
	Position string           `bson:"position"`
}

// Sink implements sink.Sinker against a MongoDB collection, staging each
// batch before commit exactly as the teacher's MongoSink does.
type Sink struct {
	id      string
	client  *mongo.Client
	events  *mongo.Collection
	offsets *mongo.Collection
	staging *mongo.Collection

	noTxWarningLogged bool
}

func New(ctx context.Context, id, uri, db, coll, offsetsColl string) (*Sink, error) {
	c, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongosink: connect: %w", err)
	}
	s := &Sink{
		id:      id,
		client:  c,
		events:  c.Database(db).Collection(coll),
		offsets: c.Database(db).Collection(offsetsColl),
		staging: c.Database(db).Collection(coll + "_staging"),
	}
	if err := s.recoverPendingBatches(ctx); err != nil {
		logutil.Warn("mongosink: could not recover pending batches", zap.Error(err))
	}
	return s, nil
}

func (s *Sink) GetID() string { return s.id }

func (s *Sink) Close() error { return s.client.Disconnect(context.Background()) }

func (s *Sink) RefreshMeta(schema, table string) {
	// Mongo has no schema cache to invalidate: every write inserts a new
	// document of whatever shape the row carries.
}

func (s *Sink) SinkDDL(ctx context.Context, d *meta.DdlData) error {
	doc := bson.M{
		"_id":    fmt.Sprintf("ddl|%s.%s|%d", d.Schema, d.Table, time.Now().UnixNano()),
		"schema": d.Schema, "table": d.Table, "query": d.Query,
		"position": d.Position.ToText(),
	}
	_, err := s.events.Database().Collection("ddl_log").InsertOne(ctx, doc)
	return err
}

func (s *Sink) SinkRaw(ctx context.Context, item *meta.DtItem) error {
	// Mongo is never a raw-mode (Redis/Kafka) destination; nothing to do.
	return nil
}

// SinkDML batches rows into eventDocs and writes them with the same
// staged, retry-with-backoff path the teacher's writeBatchWithGTID uses.
func (s *Sink) SinkDML(ctx context.Context, rows []*meta.RowData) error {
	if len(rows) == 0 {
		return nil
	}
	docs := make([]eventDoc, 0, len(rows))
	var lastPos meta.Position
	for _, r := range rows {
		docs = append(docs, rowToEventDoc(r))
		lastPos = r.Position
	}
	return s.writeBatchWithStaging(ctx, docs, lastPos)
}

func rowToEventDoc(r *meta.RowData) eventDoc {
	op := "u"
	switch r.Type {
	case meta.RowInsert:
		op = "i"
	case meta.RowDelete:
		op = "d"
	}
	chg := map[string]delta{}
	switch r.Type {
	case meta.RowInsert:
		for k, v := range r.After {
			chg[k] = delta{T: v.String()}
		}
	case meta.RowDelete:
		for k, v := range r.Before {
			chg[k] = delta{F: v.String()}
		}
	case meta.RowUpdate:
		for k, after := range r.After {
			before, hadBefore := r.Before[k]
			if !hadBefore || !before.Equal(after) {
				d := delta{T: after.String()}
				if hadBefore {
					d.F = before.String()
				}
				chg[k] = d
			}
		}
	}
	return eventDoc{
		ID:       fmt.Sprintf("%s.%s|%s|%d", r.Schema, r.Table, op, time.Now().UnixNano()),
		TS:       time.Now().UTC(),
		OP:       op,
		Schema:   r.Schema,
		Table:    r.Table,
		Chg:      chg,
		Position: r.Position.ToText(),
	}
}

// writeBatchWithStaging mirrors the teacher's writeBatchWithGTID: stage
// first (crash-recovery point), then attempt a transactional write,
// falling back to non-transactional on a standalone deployment, then mark
// staging committed.
func (s *Sink) writeBatchWithStaging(ctx context.Context, docs []eventDoc, pos meta.Position) error {
	batchID := fmt.Sprintf("%s_%d_%s", s.id, time.Now().UnixNano(), pos.ToText())
	stagingDoc := bson.M{
		"_id": batchID, "events": docs, "position": pos.ToText(),
		"createdAt": time.Now().UTC(), "status": "pending",
	}

	return retryWithBackoff(ctx, func(retryCtx context.Context) error {
		// A retry finds the staging document from the earlier attempt.
		if _, err := s.staging.InsertOne(retryCtx, stagingDoc); err != nil && !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("staging insert: %w", err)
		}

		err := s.writeBatchWithTransaction(retryCtx, docs, pos)
		if err != nil {
			errStr := err.Error()
			if strings.Contains(errStr, "Transaction numbers are only allowed on a replica set") ||
				strings.Contains(errStr, "Cannot insert into a time-series collection in a multi-document transaction") {
				if !s.noTxWarningLogged {
					logutil.Warn("mongosink: transactions not supported, falling back to non-transactional writes")
					s.noTxWarningLogged = true
				}
				if err := s.writeBatchWithoutTransaction(retryCtx, docs, pos); err != nil {
					return fmt.Errorf("write batch (non-transactional fallback): %w", err)
				}
			} else {
				return err
			}
		}

		_, _ = s.staging.UpdateByID(retryCtx, batchID, bson.M{"$set": bson.M{"status": "committed", "committedAt": time.Now().UTC()}})
		return nil
	}, 5, 100*time.Millisecond)
}

func (s *Sink) writeBatchWithTransaction(ctx context.Context, docs []eventDoc, pos meta.Position) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if err := s.bulkInsert(sessCtx, docs); err != nil {
			return nil, err
		}
		if err := s.saveOffset(sessCtx, pos); err != nil {
			return nil, fmt.Errorf("save offset: %w", err)
		}
		return nil, nil
	})
	return err
}

func (s *Sink) writeBatchWithoutTransaction(ctx context.Context, docs []eventDoc, pos meta.Position) error {
	if err := s.bulkInsert(ctx, docs); err != nil {
		return fmt.Errorf("bulk write events: %w", err)
	}
	if err := s.saveOffset(ctx, pos); err != nil {
		return fmt.Errorf("save offset (non-transactional): %w", err)
	}
	return nil
}

func (s *Sink) bulkInsert(ctx context.Context, docs []eventDoc) error {
	ws := make([]mongo.WriteModel, 0, len(docs))
	for i := range docs {
		ws = append(ws, mongo.NewInsertOneModel().SetDocument(docs[i]))
	}
	_, err := s.events.BulkWrite(ctx, ws, options.BulkWrite().SetOrdered(false))
	if err != nil {
		var bwe *mongo.BulkWriteException
		if errors.As(err, &bwe) && allDuplicateKeyErrors(bwe) {
			return nil
		}
		return err
	}
	return nil
}

func allDuplicateKeyErrors(bwe *mongo.BulkWriteException) bool {
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}

func (s *Sink) saveOffset(ctx context.Context, pos meta.Position) error {
	_, err := s.offsets.UpdateByID(ctx, s.id, bson.M{
		"$set": bson.M{"position": pos.ToText(), "updatedAt": time.Now().UTC()},
	}, options.Update().SetUpsert(true))
	return err
}

// retryWithBackoff mirrors the teacher's retryWithBackoff: retry a
// transient write a fixed number of times with exponential backoff (the
// wait doubles after each attempt), bailing
// out immediately on context cancellation or a non-transient error.
func retryWithBackoff(ctx context.Context, fn func(context.Context) error, attempts int, initial time.Duration) error {
	var lastErr error
	wait := initial
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		logutil.Warn("mongosink: transient write error, retrying", zap.Error(lastErr), zap.Int("attempt", i+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("mongosink: giving up after %d attempts: %w", attempts, lastErr)
}

func isTransient(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.HasErrorLabel("TransientTransactionError") || cmdErr.HasErrorLabel("UnknownTransactionCommitResult")
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}

func (s *Sink) recoverPendingBatches(ctx context.Context) error {
	cursor, err := s.staging.Find(ctx, bson.M{"status": "pending"})
	if err != nil {
		return fmt.Errorf("find pending batches: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return fmt.Errorf("decode pending batches: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}
	logutil.Info(fmt.Sprintf("mongosink: found %d pending batches to recover", len(docs)))
	for _, d := range docs {
		_, _ = s.staging.UpdateByID(ctx, d["_id"], bson.M{
			"$set": bson.M{"status": "archived", "archivedAt": time.Now().UTC()},
		})
	}
	return nil
}
