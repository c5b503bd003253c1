package meta

import (
	"fmt"
	"strconv"
)

// secsFrom1970To2000 is the offset between the Unix epoch and the Postgres
// epoch (2000-01-01 00:00:00 UTC), used to convert pglogrepl's microseconds-
// since-PG-epoch timestamps into Unix time. Mirrors ape-dts's
// SECS_FROM_1970_TO_2000 constant in pg_cdc_extractor.rs.
const secsFrom1970To2000 = 946_684_800

// PositionKind tags which source variant a Position carries.
type PositionKind uint8

const (
	PositionNone PositionKind = iota
	PositionMySQL
	PositionPG
	PositionMongo
	PositionRedis
	PositionKafka
)

// Position is a sum type over every source's checkpoint representation.
// Exactly the fields for Kind are meaningful; the rest are zero.
type Position struct {
	Kind PositionKind

	// MySQL
	BinlogFile string
	BinlogPos  uint32
	GTIDSet    string

	// PG
	LSN       uint64 // pglogrepl.LSN, kept as uint64 to avoid an import cycle
	TimeUnix  int64  // Unix seconds, converted from the PG-epoch microseconds
	TimeNanos int32

	// Mongo
	ResumeToken   string
	MongoUnixSecs int64

	// Redis
	ReplID     string
	ReplOffset int64

	// Kafka
	Topic     string
	Partition int32
	Offset    int64
}

// PGTimestampToUnix converts a pglogrepl Commit/Begin timestamp (int64
// microseconds since the PG epoch) into Unix seconds+nanos, exactly as
// ape-dts's pg_cdc_extractor.rs does when building Position/Commit events.
func PGTimestampToUnix(pgMicros int64) (secs int64, nanos int32) {
	totalSecs := pgMicros/1_000_000 + secsFrom1970To2000
	remMicros := pgMicros % 1_000_000
	if remMicros < 0 {
		remMicros += 1_000_000
		totalSecs--
	}
	return totalSecs, int32(remMicros) * 1000
}

// ToText renders the position the way dflow's logutil.Position helper and
// the checkpoint file format expect: a single human-auditable line per
// source kind, matching ape-dts's Position::to_string.
func (p Position) ToText() string {
	switch p.Kind {
	case PositionNone:
		return "none"
	case PositionMySQL:
		return fmt.Sprintf("mysql|file:%s|pos:%d|gtid:%s", p.BinlogFile, p.BinlogPos, p.GTIDSet)
	case PositionPG:
		return fmt.Sprintf("pg|lsn:%s|ts:%d.%09d", formatLSN(p.LSN), p.TimeUnix, p.TimeNanos)
	case PositionMongo:
		if p.ResumeToken != "" {
			return fmt.Sprintf("mongo|resume_token:%s", p.ResumeToken)
		}
		return fmt.Sprintf("mongo|ts:%d", p.MongoUnixSecs)
	case PositionRedis:
		return fmt.Sprintf("redis|repl_id:%s|offset:%d", p.ReplID, p.ReplOffset)
	case PositionKafka:
		return fmt.Sprintf("kafka|topic:%s|partition:%d|offset:%d", p.Topic, p.Partition, p.Offset)
	default:
		return "unknown"
	}
}

func formatLSN(lsn uint64) string {
	return strconv.FormatUint(lsn>>32, 16) + "/" + strconv.FormatUint(lsn&0xFFFFFFFF, 16)
}

// Less reports whether p precedes o, for the same Kind only; positions of
// different kinds are never ordered (Less returns false).
func (p Position) Less(o Position) bool {
	if p.Kind != o.Kind {
		return false
	}
	switch p.Kind {
	case PositionMySQL:
		if p.BinlogFile != o.BinlogFile {
			return p.BinlogFile < o.BinlogFile
		}
		return p.BinlogPos < o.BinlogPos
	case PositionPG:
		return p.LSN < o.LSN
	case PositionKafka:
		if p.Topic != o.Topic || p.Partition != o.Partition {
			return false
		}
		return p.Offset < o.Offset
	case PositionRedis:
		return p.ReplOffset < o.ReplOffset
	default:
		return false
	}
}
