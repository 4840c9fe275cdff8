package partition

import "hash/fnv"

// Index returns a stable shard index in [0, buckets) for a key.
// Deterministic: the same key always lands in the same shard, so per-key
// check-and-set operations on a sharded map never race across shards.
// Uses FNV-32a (stdlib, fast, well-distributed).
func Index(key string, buckets int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(buckets))
}
