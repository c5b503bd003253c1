// Package kafkasink implements the Kafka raw-mode sinker (spec.md's
// DOMAIN STACK): row/DDL/redis events are all serialized as JSON
// envelopes and produced onto a topic keyed by schema.table (or, for
// Redis entries relayed through a Kafka bridge, by the entry's first
// key), preserving per-key ordering the way a CDC-to-Kafka bridge must.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/sdlhq/dflow/internal/meta"
)

type Sink struct {
	id     string
	writer *kafka.Writer
}

func New(id string, brokers []string, topic string) *Sink {
	return &Sink{
		id: id,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (s *Sink) GetID() string { return s.id }
func (s *Sink) Close() error  { return s.writer.Close() }

func (s *Sink) RefreshMeta(schema, table string) {}

type envelope struct {
	Kind     string          `json:"kind"`
	Schema   string          `json:"schema,omitempty"`
	Table    string          `json:"table,omitempty"`
	Type     string          `json:"type,omitempty"`
	Before   json.RawMessage `json:"before,omitempty"`
	After    json.RawMessage `json:"after,omitempty"`
	Query    string          `json:"query,omitempty"`
	Position string          `json:"position"`
}

func (s *Sink) SinkDML(ctx context.Context, rows []*meta.RowData) error {
	if len(rows) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(rows))
	for _, r := range rows {
		before, err := marshalColValues(r.Before)
		if err != nil {
			return fmt.Errorf("kafkasink: marshal before-image: %w", err)
		}
		after, err := marshalColValues(r.After)
		if err != nil {
			return fmt.Errorf("kafkasink: marshal after-image: %w", err)
		}
		env := envelope{
			Kind: "dml", Schema: r.Schema, Table: r.Table, Type: rowTypeName(r.Type),
			Before: before, After: after, Position: r.Position.ToText(),
		}
		body, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("kafkasink: marshal envelope: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.Schema + "." + r.Table),
			Value: body,
		})
	}
	return s.writer.WriteMessages(ctx, msgs...)
}

func (s *Sink) SinkDDL(ctx context.Context, ddl *meta.DdlData) error {
	env := envelope{Kind: "ddl", Schema: ddl.Schema, Table: ddl.Table, Query: ddl.Query, Position: ddl.Position.ToText()}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("kafkasink: marshal ddl envelope: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ddl.Schema + "." + ddl.Table), Value: body})
}

func (s *Sink) SinkRaw(ctx context.Context, item *meta.DtItem) error {
	if item.Data.Kind != meta.DtRedis || item.Data.Redis == nil {
		return nil
	}
	e := item.Data.Redis
	body, err := json.Marshal(struct {
		Kind     string   `json:"kind"`
		Cmd      string   `json:"cmd"`
		Keys     []string `json:"keys,omitempty"`
		Position string   `json:"position"`
	}{Kind: "redis", Cmd: e.CmdName, Keys: e.Keys, Position: item.Position.ToText()})
	if err != nil {
		return fmt.Errorf("kafkasink: marshal redis envelope: %w", err)
	}
	key := []byte(e.CmdName)
	if len(e.Keys) > 0 {
		key = []byte(e.Keys[0])
	}
	return s.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: body})
}

func rowTypeName(t meta.RowType) string {
	switch t {
	case meta.RowInsert:
		return "insert"
	case meta.RowUpdate:
		return "update"
	case meta.RowDelete:
		return "delete"
	default:
		return "unknown"
	}
}

func marshalColValues(cols map[string]meta.ColValue) (json.RawMessage, error) {
	if len(cols) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(cols))
	for k, v := range cols {
		out[k] = v.String()
	}
	return json.Marshal(out)
}
