package dia

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// PartitionFunc maps a key to a 32-bit partition index. The engine routes a
// probe to index thread partition(key) % threads, so the mapping must be
// deterministic: it is what guarantees a key is only ever serviced by one
// thread and per-key probes never need cross-thread synchronization.
type PartitionFunc func(key []byte) uint32

// HashPartition is the default partitioner. It hashes the whole key, so it
// balances arbitrary workloads at the cost of a few nanoseconds per probe.
func HashPartition(key []byte) uint32 {
	return uint32(xxhash.Sum64(key) >> 32)
}

// FixedPrefixPartition partitions fixed-layout keys by the top 32 bits of
// their first 8 bytes, the layout YCSB-style loaders emit. Keys shorter
// than 8 bytes are zero-extended.
func FixedPrefixPartition(key []byte) uint32 {
	var buf [8]byte
	copy(buf[:], key)
	return uint32(binary.LittleEndian.Uint64(buf[:]) >> 32)
}

// partitionForBenchmark selects a partitioner from a workload name. The
// first byte is the discriminator: 'y' picks the fixed-prefix scheme that
// matches YCSB key layout, everything else gets the general hasher.
func partitionForBenchmark(benchmark string) PartitionFunc {
	if len(benchmark) > 0 && benchmark[0] == 'y' {
		return FixedPrefixPartition
	}
	return HashPartition
}

// keyDigest is the 64-bit digest the coalescer groups same-key probes by.
// Requests whose keys collide in the digest are grouped together, so the
// digest must behave as key identity; xxhash keeps accidental collisions
// out of any realistic batch.
func keyDigest(key []byte) uint64 {
	return xxhash.Sum64(key)
}
