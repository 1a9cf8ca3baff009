package schema

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	// BucketPrefixLen is the length of the bucket number in front of every row key.
	BucketPrefixLen = 4
	// MaxBuckets bounds the number of tablets a single table may be split into.
	MaxBuckets = 1024
)

// PartitionSpec hash partitions rows over a subset of the key columns into a
// fixed number of buckets and records the replication factor.
// An empty HashColumns list hashes over all key columns.
type PartitionSpec struct {
	HashColumns []string `json:"hash_columns,omitempty"`
	Buckets     int      `json:"buckets"`
	Replicas    int      `json:"replicas"`
	Seed        uint32   `json:"seed,omitempty"`
}

func NewPartitionSpec(hashColumns []string, buckets, replicas int) *PartitionSpec {
	cols := make([]string, len(hashColumns))
	copy(cols, hashColumns)
	return &PartitionSpec{HashColumns: cols, Buckets: buckets, Replicas: replicas}
}

func (p *PartitionSpec) String() string {
	cols := "*"
	if len(p.HashColumns) > 0 {
		cols = strings.Join(p.HashColumns, ",")
	}
	return fmt.Sprintf("HASH(%s) BUCKETS %d REPLICAS %d", cols, p.Buckets, p.Replicas)
}

// Validate checks the partition spec on its own and against the schema it partitions.
func (p *PartitionSpec) Validate(s *Schema) error {
	if p == nil {
		return &InvalidPartitionError{Reason: "partition spec is nil"}
	}
	if p.Buckets < 1 || p.Buckets > MaxBuckets {
		return &InvalidPartitionError{Reason: fmt.Sprintf("bucket count %d is not within [1, %d]", p.Buckets, MaxBuckets)}
	}
	if p.Replicas < 1 || p.Replicas%2 == 0 {
		return &InvalidPartitionError{Reason: fmt.Sprintf("replication factor %d must be odd and at least 1", p.Replicas)}
	}
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(p.HashColumns))
	for _, name := range p.HashColumns {
		col, ok := s.Column(name)
		if !ok {
			return &InvalidPartitionError{Reason: fmt.Sprintf("hash column %q does not exist", name)}
		}
		if !col.Key {
			return &InvalidPartitionError{Reason: fmt.Sprintf("hash column %q is not a key column", name)}
		}
		if _, ok := seen[name]; ok {
			return &InvalidPartitionError{Reason: fmt.Sprintf("hash column %q is listed twice", name)}
		}
		seen[name] = struct{}{}
	}
	return nil
}

// HashColumnNames returns the effective hash columns for s.
func (p *PartitionSpec) HashColumnNames(s *Schema) []string {
	if len(p.HashColumns) > 0 {
		out := make([]string, len(p.HashColumns))
		copy(out, p.HashColumns)
		return out
	}
	keys := s.KeyColumns()
	out := make([]string, len(keys))
	for i, c := range keys {
		out[i] = c.Name
	}
	return out
}

// Bucket returns the bucket of a normalized row. Only the hash columns are read.
func (p *PartitionSpec) Bucket(s *Schema, r *Row) (uint32, error) {
	h := blake3.New()
	if p.Seed != 0 {
		h.Write(binary.BigEndian.AppendUint32(nil, p.Seed))
	}
	var buf []byte
	for _, name := range p.HashColumnNames(s) {
		col, _ := s.Column(name)
		v, ok := r.values[name]
		if !ok || v == nil {
			return 0, mismatchf(name, "hash column is missing")
		}
		var err error
		buf, err = appendKeyColumn(buf[:0], col, v, false)
		if err != nil {
			return 0, err
		}
		h.Write(buf)
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4]) % uint32(p.Buckets), nil
}

// RowKey returns the full storage key of a normalized row: the big endian
// bucket number followed by the encoded key columns.
func (p *PartitionSpec) RowKey(s *Schema, r *Row) (string, uint32, error) {
	bucket, err := p.Bucket(s, r)
	if err != nil {
		return "", 0, err
	}
	key, err := EncodeKey(s, r)
	if err != nil {
		return "", 0, err
	}
	out := make([]byte, 0, BucketPrefixLen+len(key))
	out = binary.BigEndian.AppendUint32(out, bucket)
	out = append(out, key...)
	return string(out), bucket, nil
}

// DecodeRowKey splits a storage key into its bucket and key columns.
func (p *PartitionSpec) DecodeRowKey(s *Schema, key string, r *Row) (uint32, error) {
	if len(key) < BucketPrefixLen {
		return 0, fmt.Errorf("row key of %d bytes has no bucket prefix", len(key))
	}
	bucket := binary.BigEndian.Uint32([]byte(key[:BucketPrefixLen]))
	if err := DecodeKey(s, []byte(key[BucketPrefixLen:]), r); err != nil {
		return 0, err
	}
	return bucket, nil
}

// BucketStart returns the first storage key of a bucket.
func BucketStart(bucket uint32) string {
	return string(binary.BigEndian.AppendUint32(nil, bucket))
}

// SplitKeys returns the keys at which a table must be split so that every
// bucket is served by its own tablet.
func (p *PartitionSpec) SplitKeys() []string {
	keys := make([]string, 0, p.Buckets-1)
	for b := 1; b < p.Buckets; b++ {
		keys = append(keys, BucketStart(uint32(b)))
	}
	return keys
}
