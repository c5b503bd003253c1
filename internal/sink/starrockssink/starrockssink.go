// Package starrockssink implements a real, minimal StarRocks sinker:
// go-sql-driver/mysql drives the control connection (since StarRocks
// speaks the MySQL wire protocol for everything except bulk loading),
// and an HTTP PUT against the FE's stream-load endpoint carries the
// actual row data, the documented stream-load protocol StarRocks expects
// (https://docs.starrocks.io/... Stream Load). No pack library wraps
// stream-load, so the HTTP client itself is net/http — justified in the
// grounding ledger as the one stdlib-only leaf of this sinker.
package starrockssink

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/sdlhq/dflow/internal/logutil"
	"github.com/sdlhq/dflow/internal/meta"
	"go.uber.org/zap"
)

type Sink struct {
	id string

	db *sql.DB // control connection: DDL passthrough

	feHTTPAddr string // host:http_port of one FE, used for stream-load PUT
	db_        string
	user       string
	password   string
	httpClient *http.Client
}

func New(id, controlDSN, feHTTPAddr, database, user, password string) (*Sink, error) {
	db, err := sql.Open("mysql", controlDSN)
	if err != nil {
		return nil, fmt.Errorf("starrockssink: open control connection: %w", err)
	}
	return &Sink{
		id: id, db: db, feHTTPAddr: feHTTPAddr, db_: database, user: user, password: password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *Sink) GetID() string { return s.id }
func (s *Sink) Close() error  { return s.db.Close() }

func (s *Sink) RefreshMeta(schema, table string) {}

// SinkDML groups rows by table and issues one stream-load request per
// table per drain, JSON-lines encoded (one object per line, sent with
// stream load's format=json header), which sidesteps CSV escaping entirely for arbitrary column text.
func (s *Sink) SinkDML(ctx context.Context, rows []*meta.RowData) error {
	if len(rows) == 0 {
		return nil
	}
	byTable := map[string][]*meta.RowData{}
	for _, r := range rows {
		key := r.Schema + "." + r.Table
		byTable[key] = append(byTable[key], r)
	}
	for key, trows := range byTable {
		if err := s.streamLoad(ctx, trows[0].Table, trows); err != nil {
			return fmt.Errorf("starrockssink: table %s: %w", key, err)
		}
	}
	return nil
}

func (s *Sink) streamLoad(ctx context.Context, table string, rows []*meta.RowData) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		doc := map[string]any{}
		for k, v := range r.Current() {
			doc[k] = v.String()
		}
		doc["__op"] = opCode(r.Type)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}

	url := fmt.Sprintf("http://%s/api/%s/%s/_stream_load", s.feHTTPAddr, s.db_, table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, &buf)
	if err != nil {
		return fmt.Errorf("build stream-load request: %w", err)
	}
	req.SetBasicAuth(s.user, s.password)
	req.Header.Set("Expect", "100-continue")
	req.Header.Set("format", "json")
	req.Header.Set("strip_outer_array", "false")
	req.Header.Set("label", fmt.Sprintf("dflow_%s_%d", table, time.Now().UnixNano()))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stream-load request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var result struct {
		Status  string `json:"Status"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("stream-load response decode (status %d): %s", resp.StatusCode, string(body))
	}
	if result.Status != "Success" && result.Status != "Publish Timeout" {
		return fmt.Errorf("stream-load failed: status=%s message=%s", result.Status, result.Message)
	}
	logutil.Monitor("starrockssink stream-load", zap.String("table", table), zap.Int("rows", len(rows)), zap.String("status", result.Status))
	return nil
}

func (s *Sink) SinkDDL(ctx context.Context, ddl *meta.DdlData) error {
	if _, err := s.db.ExecContext(ctx, ddl.Query); err != nil {
		logutil.Warn("starrockssink: DDL passthrough failed", zap.String("query", ddl.Query), zap.Error(err))
		return err
	}
	return nil
}

func (s *Sink) SinkRaw(ctx context.Context, item *meta.DtItem) error { return nil }

func opCode(t meta.RowType) string {
	switch t {
	case meta.RowInsert:
		return "I"
	case meta.RowUpdate:
		return "U"
	case meta.RowDelete:
		return "D"
	default:
		return "?"
	}
}
