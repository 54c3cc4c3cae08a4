package sstable

import (
	"errors"
	"hash/fnv"
	"math"

	"github.com/blockdb/blockdb/filter"
)

// bloomFilter is an in-memory membership filter built while writing an
// SSTable and rebuilt from the data region on open. It is never persisted
// to disk — spec §6's on-disk layout has no room reserved for one — so a
// reader that restarts always pays one rebuild pass, trading a little
// startup I/O for not having to keep the on-disk format bit-exact to the
// spec and carry a filter too.
type bloomFilter struct {
	bits      []byte
	numBits   uint64
	numHashes uint32
}

var _ filter.Filter = (*bloomFilter)(nil)

// newBloomFilter sizes a filter for numElements at the given false-positive
// rate using the standard optimal-k formula.
func newBloomFilter(numElements uint64, falsePositiveRate float64) (*bloomFilter, error) {
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		return nil, errors.New("sstable: bloom false positive rate must be in (0, 1)")
	}
	if numElements == 0 {
		return &bloomFilter{bits: make([]byte, 1), numBits: 8, numHashes: 1}, nil
	}

	m := uint64(math.Ceil(float64(numElements) * math.Abs(math.Log(falsePositiveRate)) / (math.Log(2) * math.Log(2))))
	k := uint32(math.Ceil((float64(m) / float64(numElements)) * math.Log(2)))

	if m%8 != 0 {
		m = (m/8 + 1) * 8
	}
	if m == 0 {
		m = 8
	}
	if k == 0 {
		k = 1
	}

	return &bloomFilter{bits: make([]byte, m/8), numBits: m, numHashes: k}, nil
}

func (bf *bloomFilter) add(key []byte) {
	h1, h2 := fnvHash(key)
	for i := uint32(0); i < bf.numHashes; i++ {
		idx := (uint64(h1) + uint64(i)*uint64(h2)) % bf.numBits
		bf.bits[idx/8] |= 1 << (idx % 8)
	}
}

func (bf *bloomFilter) mayContain(key []byte) bool {
	return bf.Contains(key)
}

// Contains implements filter.Filter.
func (bf *bloomFilter) Contains(data []byte) bool {
	if bf == nil || len(bf.bits) == 0 {
		return true
	}
	h1, h2 := fnvHash(data)
	for i := uint32(0); i < bf.numHashes; i++ {
		idx := (uint64(h1) + uint64(i)*uint64(h2)) % bf.numBits
		if (bf.bits[idx/8]>>(idx%8))&1 == 0 {
			return false
		}
	}
	return true
}

// Bytes implements filter.Filter.
func (bf *bloomFilter) Bytes() []byte { return bf.bits }

func fnvHash(data []byte) (uint32, uint32) {
	h := fnv.New64a()
	h.Write(data)
	sum := h.Sum64()
	return uint32(sum), uint32(sum >> 32)
}
