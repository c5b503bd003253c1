// Package redisproto supplies the Redis-cluster key/slot logic the Redis
// parallelizer needs (spec.md §4.2): CRC16 keyslot calculation, hash-tag
// extraction, and classification of slot-less/broadcast commands.
// Grounded on ape-dts's dt-parallelizer/src/redis_parallelizer.rs, which
// leans on the `redis` crate's cluster_topology module for exactly this —
// dflow reimplements the CRC16/XMODEM keyslot function directly since no
// pack Go library exposes a standalone cluster-keyslot helper (go-redis's
// own cluster client keeps this internal).
package redisproto

const slotCount = 16384

// crc16Table is the CCITT/XMODEM polynomial table Redis Cluster specifies
// for key hashing (https://redis.io/docs/reference/cluster-spec/, "Keys
// hash tags"), precomputed for the standard 0x1021 polynomial.
var crc16Table = func() [256]uint16 {
	var t [256]uint16
	const poly = 0x1021
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = (crc << 8) ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// KeySlot returns the Redis Cluster hash slot (0-16383) for key, honoring
// "{hash tag}" substrings exactly as the cluster spec requires: if key
// contains a "{...}" with non-empty contents, only that substring is
// hashed, so multi-key commands sharing a tag land on the same slot.
func KeySlot(key string) int {
	hashed := key
	if start := indexByte(key, '{'); start >= 0 {
		if end := indexByte(key[start+1:], '}'); end >= 0 && end > 0 {
			hashed = key[start+1 : start+1+end]
		}
	}
	return int(crc16([]byte(hashed)) % slotCount)
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// slotlessCommands are administrative/broadcast commands that don't target
// a specific key and must be fanned out to every cluster node rather than
// routed by slot (e.g. SWAPDB, FLUSHALL, SELECT) — spec.md §4.2's Redis
// parallelizer broadcast case, grounded on redis_parallelizer.rs's
// handling of such commands.
var slotlessCommands = map[string]bool{
	"SWAPDB":   true,
	"FLUSHALL": true,
	"FLUSHDB":  true,
	"SELECT":   true,
	"PUBLISH":  true,
	"MULTI":    true,
	"EXEC":     true,
}

// IsSlotless reports whether cmd (already upper-cased) must be broadcast
// to every node instead of routed to a single key's slot.
func IsSlotless(cmd string) bool {
	return slotlessCommands[cmd]
}

// SlotsForKeys returns the distinct set of slots the given keys map to. A
// multi-key command (MSET, MGET, ...) whose keys span more than one slot
// can't be executed as a single cluster command — the caller must reject
// it (spec.md's "cross-slot multi-key command rejection").
func SlotsForKeys(keys []string) map[int]bool {
	slots := make(map[int]bool, len(keys))
	for _, k := range keys {
		slots[KeySlot(k)] = true
	}
	return slots
}
