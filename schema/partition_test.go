package schema

import (
	"errors"
	"testing"
)

func TestPartitionSpecValidate(t *testing.T) {
	s, err := NewBuilder().AddColumn("id", Int32, true).AddColumn("region", String, true).AddColumn("name", String, false).Build()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		spec    *PartitionSpec
		wantErr bool
	}{
		{"hash id", NewPartitionSpec([]string{"id"}, 3, 3), false},
		{"all keys", NewPartitionSpec(nil, 4, 1), false},
		{"single replica", NewPartitionSpec([]string{"id"}, 1, 1), false},
		{"zero buckets", NewPartitionSpec([]string{"id"}, 0, 3), true},
		{"too many buckets", NewPartitionSpec([]string{"id"}, MaxBuckets+1, 3), true},
		{"even replicas", NewPartitionSpec([]string{"id"}, 3, 2), true},
		{"zero replicas", NewPartitionSpec([]string{"id"}, 3, 0), true},
		{"negative replicas", NewPartitionSpec([]string{"id"}, 3, -1), true},
		{"non key hash column", NewPartitionSpec([]string{"name"}, 3, 3), true},
		{"unknown hash column", NewPartitionSpec([]string{"ghost"}, 3, 3), true},
		{"repeated hash column", NewPartitionSpec([]string{"id", "id"}, 3, 3), true},
		{"nil spec", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate(s)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var invalid *InvalidPartitionError
			if !errors.As(err, &invalid) {
				t.Fatalf("got %v want InvalidPartitionError", err)
			}
		})
	}
}

func TestReplicationFactorParity(t *testing.T) {
	for r := -3; r <= 9; r++ {
		err := NewPartitionSpec(nil, 1, r).Validate(nil)
		if got, want := err != nil, r < 1 || r%2 == 0; got != want {
			t.Errorf("replicas %d: got error %v, want error %v", r, err, want)
		}
	}
}

func TestBucketDeterministicAndInRange(t *testing.T) {
	s := usersSchema(t)
	spec := NewPartitionSpec([]string{"id"}, 3, 3)

	seen := make(map[uint32]int)
	for id := int32(2001); id <= 2100; id++ {
		r := NewRow().Set("id", id).Set("name", "ignored")
		b1, err := spec.Bucket(s, r)
		if err != nil {
			t.Fatal(err)
		}
		b2, _ := spec.Bucket(s, NewRow().Set("id", id))
		if b1 != b2 {
			t.Fatalf("bucket of %d depends on non hash columns: %d != %d", id, b1, b2)
		}
		if b1 >= 3 {
			t.Fatalf("bucket %d out of range", b1)
		}
		seen[b1]++
	}
	if got, want := len(seen), 3; got != want {
		t.Errorf("100 keys landed in %d buckets, want %d", got, want)
	}
}

func TestRowKeyRoundTrip(t *testing.T) {
	s := usersSchema(t)
	spec := NewPartitionSpec([]string{"id"}, 8, 1)

	key, bucket, err := spec.RowKey(s, NewRow().Set("id", int32(-42)))
	if err != nil {
		t.Fatal(err)
	}
	if key < BucketStart(bucket) {
		t.Errorf("row key %x sorts before its bucket start", key)
	}
	if bucket+1 < 8 && key >= BucketStart(bucket+1) {
		t.Errorf("row key %x sorts after the next bucket start", key)
	}

	r := NewRow()
	got, err := spec.DecodeRowKey(s, key, r)
	if err != nil {
		t.Fatal(err)
	}
	if got != bucket {
		t.Errorf("got %v want %v", got, bucket)
	}
	if id, _ := r.GetInt32("id"); id != -42 {
		t.Errorf("got %v want %v", id, -42)
	}
}

func TestSplitKeys(t *testing.T) {
	if got, want := len(NewPartitionSpec(nil, 1, 1).SplitKeys()), 0; got != want {
		t.Errorf("got %v want %v", got, want)
	}
	keys := NewPartitionSpec(nil, 3, 1).SplitKeys()
	if got, want := len(keys), 2; got != want {
		t.Fatalf("got %v want %v", got, want)
	}
	if got, want := keys[0], "\x00\x00\x00\x01"; got != want {
		t.Errorf("got %x want %x", got, want)
	}
	if got, want := keys[1], "\x00\x00\x00\x02"; got != want {
		t.Errorf("got %x want %x", got, want)
	}
}
