// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package cache

import (
	"hash/fnv"
	"math"
	"math/bits"
	"sync"
)

// BloomFilter is a probabilistic set used as a negative cache in front of an
// authoritative store.
//
// Key characteristics:
//   - No false negatives: if Test returns false, the key was never added
//   - Possible false positives: a true result must be confirmed by the store
//   - No removal: keys deleted from the store stay set until Clear
//
// Usage pattern:
//
//	if !bloom.Test(hash) {
//	    return nil, false, nil // definitely not blocked
//	}
//	return store.Get(hash)
type BloomFilter struct {
	mu       sync.RWMutex
	bits     []uint64
	size     uint64 // number of bits
	hashFns  int
	count    int
	capacity int
}

// NewBloomFilter sizes a filter for expectedItems keys at the target false
// positive rate. Out-of-range arguments fall back to 10000 keys at 1%.
func NewBloomFilter(expectedItems int, falsePositiveRate float64) *BloomFilter {
	if expectedItems <= 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	// m = -n*ln(p)/ln(2)^2, k = (m/n)*ln(2)
	m := int(math.Ceil(-float64(expectedItems) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}
	k := int(math.Round(float64(m) / float64(expectedItems) * math.Ln2))
	k = max(1, min(k, 16))

	words := (m + 63) / 64
	return &BloomFilter{
		bits:     make([]uint64, words),
		size:     uint64(words * 64),
		hashFns:  k,
		capacity: expectedItems,
	}
}

// Add sets key's bits.
func (bf *BloomFilter) Add(key string) {
	h1, h2 := bloomHashes(key)

	bf.mu.Lock()
	defer bf.mu.Unlock()

	for i := 0; i < bf.hashFns; i++ {
		idx := (h1 + uint64(i)*h2) % bf.size
		bf.bits[idx/64] |= 1 << (idx % 64)
	}
	bf.count++
}

// Test reports whether key may have been added.
func (bf *BloomFilter) Test(key string) bool {
	h1, h2 := bloomHashes(key)

	bf.mu.RLock()
	defer bf.mu.RUnlock()

	for i := 0; i < bf.hashFns; i++ {
		idx := (h1 + uint64(i)*h2) % bf.size
		if bf.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// Clear resets every bit.
func (bf *BloomFilter) Clear() {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	clear(bf.bits)
	bf.count = 0
}

// Count returns the number of Add calls since the last Clear.
func (bf *BloomFilter) Count() int {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.count
}

// Capacity returns the expected capacity the filter was sized for.
func (bf *BloomFilter) Capacity() int {
	return bf.capacity
}

// FillRatio returns the fraction of bits set. Past roughly 0.5 the false
// positive rate climbs quickly and the filter should be rebuilt larger.
func (bf *BloomFilter) FillRatio() float64 {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	set := 0
	for _, w := range bf.bits {
		set += bits.OnesCount64(w)
	}
	return float64(set) / float64(bf.size)
}

// bloomHashes derives the two seeds for double hashing, h(i) = h1 + i*h2.
func bloomHashes(key string) (uint64, uint64) {
	a := fnv.New64a()
	_, _ = a.Write([]byte(key))
	h1 := a.Sum64()

	b := fnv.New64()
	_, _ = b.Write([]byte(key))
	_, _ = b.Write([]byte{0xff})
	h2 := b.Sum64() | 1 // odd, so successive probes differ

	return h1, h2
}
