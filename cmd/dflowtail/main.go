// Command dflowtail prints and tails the row-change documents a mongosink
// writes, the same change-stream-first-poll-fallback CLI the teacher's
// view.go offers over its own fixed EventDoc shape, adapted to
// mongosink's {schema,table,position} document instead of the teacher's
// {meta.db,meta.tbl,src.gtid/binlog}.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type delta struct {
	F any `bson:"f,omitempty"`
	T any `bson:"t,omitempty"`
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

func main() {
	var (
		uri   = flag.String("uri", "mongodb://127.0.0.1:27017", "MongoDB URI")
		db    = flag.String("db", "dflow", "Database name")
		coll  = flag.String("coll", "row_changes", "Collection name")
		limit = flag.Int("history", 20, "Print this many recent docs before live tail (0 to skip)")
		desc  = flag.Bool("desc", true, "Show history newest first")
		since = flag.String("since", "", "Only show docs with ts >= RFC3339 (history and live)")
		op    = flag.String("op", "", "Filter by op: i|u|d")
		table = flag.String("table", "", "Filter by table as schema.table")
		wide  = flag.Bool("wide", false, "Wider CHANGES column")
		poll  = flag.Duration("poll", 0, "Polling fallback interval (e.g. 2s). Set if change streams not available")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(*uri))
	if err != nil {
		log.Fatalf("mongo connect: %v", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	c := client.Database(*db).Collection(*coll)

	filter := buildFilter(*op, *table, *since)
	if *limit > 0 {
		opts := options.Find().SetLimit(int64(*limit))
		order := -1
		if !*desc {
			order = 1
		}
		opts.SetSort(bson.D{{Key: "ts", Value: order}})
		cur, err := c.Find(ctx, filter, opts)
		if err != nil {
			log.Fatalf("find history: %v", err)
		}
		var rows []eventDoc
		if err := cur.All(ctx, &rows); err != nil {
			log.Fatalf("read history: %v", err)
		}
		printHeader(*wide)
		for _, r := range rows {
			printRow(r, *wide)
		}
		if len(rows) > 0 {
			fmt.Printf("\n-- history above (%d rows) --\n\n", len(rows))
		}
	}

	if *poll > 0 {
		log.Printf("Change stream fallback disabled; polling every %s…", *poll)
		pollLoop(ctx, c, filter, *poll, *wide)
		return
	}

	csFilter := changeStreamPipeline(*op, *table, *since)
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := c.Watch(ctx, csFilter, opts)
	if err != nil {
		log.Printf("change stream unavailable (%v). Falling back to polling every 2s.", err)
		pollLoop(ctx, c, filter, 2*time.Second, *wide)
		return
	}
	defer stream.Close(ctx)

	printHeader(*wide)
	for stream.Next(ctx) {
		var ev struct {
			OperationType string   `bson:"operationType"`
			FullDocument  eventDoc `bson:"fullDocument"`
		}
		if err := stream.Decode(&ev); err != nil {
			log.Printf("decode stream: %v", err)
			continue
		}
		if ev.OperationType != "insert" {
			continue
		}
		if !matchFilter(ev.FullDocument, *op, *table, *since) {
			continue
		}
		printRow(ev.FullDocument, *wide)
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		log.Printf("stream error: %v", err)
	}
	log.Println("bye")
}

func buildFilter(op, table, since string) bson.M {
	f := bson.M{}
	if op == "i" || op == "u" || op == "d" {
		f["op"] = op
	}
	if table != "" {
		schema, tbl := splitTable(table)
		if schema != "" {
			f["schema"] = schema
		}
		if tbl != "" {
			f["table"] = tbl
		}
	}
	if since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			f["ts"] = bson.M{"$gte": t}
		}
	}
	return f
}

func changeStreamPipeline(op, table, since string) mongo.Pipeline {
	and := bson.A{bson.D{{Key: "operationType", Value: "insert"}}}

	if op == "i" || op == "u" || op == "d" {
		and = append(and, bson.D{{Key: "fullDocument.op", Value: op}})
	}
	if table != "" {
		schema, tbl := splitTable(table)
		if schema != "" {
			and = append(and, bson.D{{Key: "fullDocument.schema", Value: schema}})
		}
		if tbl != "" {
			and = append(and, bson.D{{Key: "fullDocument.table", Value: tbl}})
		}
	}
	if since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			and = append(and, bson.D{{Key: "fullDocument.ts", Value: bson.M{"$gte": t}}})
		}
	}

	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "$and", Value: and}}}},
	}
}

func matchFilter(e eventDoc, op, table, since string) bool {
	if op == "i" || op == "u" || op == "d" {
		if e.OP != op {
			return false
		}
	}
	if table != "" {
		schema, tbl := splitTable(table)
		if schema != "" && e.Schema != schema {
			return false
		}
		if tbl != "" && e.Table != tbl {
			return false
		}
	}
	if since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			if e.TS.Before(t) {
				return false
			}
		}
	}
	return true
}

func pollLoop(ctx context.Context, c *mongo.Collection, baseFilter bson.M, every time.Duration, wide bool) {
	var last time.Time
	if v, ok := baseFilter["ts"].(bson.M); ok {
		if gte, ok2 := v["$gte"].(time.Time); ok2 {
			last = gte
		}
	}
	printHeader(wide)

	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			f := bson.M{}
			for k, v := range baseFilter {
				f[k] = v
			}
			if !last.IsZero() {
				f["ts"] = bson.M{"$gt": last}
			}
			opts := options.Find().SetSort(bson.D{{Key: "ts", Value: 1}})
			cur, err := c.Find(ctx, f, opts)
			if err != nil {
				log.Printf("poll find: %v", err)
				continue
			}
			var rows []eventDoc
			if err := cur.All(ctx, &rows); err != nil {
				log.Printf("poll read: %v", err)
				continue
			}
			for _, r := range rows {
				printRow(r, wide)
				if r.TS.After(last) {
					last = r.TS
				}
			}
		}
	}
}

func splitTable(s string) (schema, tbl string) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return s, ""
}

func printHeader(wide bool) {
	maxCH := 60
	if wide {
		maxCH = 120
	}
	h := []string{"TS(UTC)", "OP", "SCHEMA", "TABLE", "CHANGES", "POSITION"}
	w := []int{19, 2, 16, 18, maxCH, 28}
	fmt.Println()
	line := ""
	for i, hd := range h {
		if i > 0 {
			line += "  "
		}
		line += fmt.Sprintf("%-*s", w[i], hd)
	}
	fmt.Println(line)
	total := 0
	for _, x := range w {
		total += x
	}
	fmt.Println(strings.Repeat("-", total+10))
}

func printRow(e eventDoc, wide bool) {
	maxCH := 60
	if wide {
		maxCH = 120
	}

	cols := []string{
		clip(e.TS.UTC().Format("2006-01-02 15:04:05"), 19),
		clip(strings.ToLower(e.OP), 2),
		clip(e.Schema, 16),
		clip(e.Table, 18),
		clip(changesSummary(e.Chg), maxCH),
		clip(e.Position, 28),
	}
	w := []int{19, 2, 16, 18, maxCH, 28}

	line := ""
	for i, v := range cols {
		if i > 0 {
			line += "  "
		}
		line += fmt.Sprintf("%-*s", w[i], v)
	}
	fmt.Println(line)
}

func clip(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func changesSummary(ch map[string]delta) string {
	if len(ch) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ch))
	for k := range ch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		d := ch[k]
		parts = append(parts, fmt.Sprintf("%s:%s→%s", k, summarizeVal(d.F), summarizeVal(d.T)))
	}
	return strings.Join(parts, " | ")
}

func summarizeVal(v any) string {
	switch x := v.(type) {
	case nil:
		return "∅"
	case string:
		if len(x) > 40 {
			return fmt.Sprintf("%q", x[:37]+"…")
		}
		return fmt.Sprintf("%q", x)
	case []byte:
		if len(x) > 16 {
			return fmt.Sprintf("0x%x…(%dB)", x[:8], len(x))
		}
		return fmt.Sprintf("0x%x", x)
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05Z")
	default:
		s := fmt.Sprint(x)
		if len(s) > 40 {
			return s[:37] + "…"
		}
		return s
	}
}
