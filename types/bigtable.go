package types

import (
	gcp_bigtable "cloud.google.com/go/bigtable"
)

// BulkMutations collects row mutations for a single ApplyBulk call.
// Refs carries a caller defined reference per mutation so that results can be
// mapped back after the batch has been sorted.
type BulkMutations struct {
	Keys []string
	Muts []*gcp_bigtable.Mutation
	Refs []int
}

func NewBulkMutations(length int) *BulkMutations {
	return &BulkMutations{
		Keys: make([]string, 0, length),
		Muts: make([]*gcp_bigtable.Mutation, 0, length),
		Refs: make([]int, 0, length),
	}
}

func (bulkMutations *BulkMutations) Add(key string, mut *gcp_bigtable.Mutation, ref int) {
	bulkMutations.Keys = append(bulkMutations.Keys, key)
	bulkMutations.Muts = append(bulkMutations.Muts, mut)
	bulkMutations.Refs = append(bulkMutations.Refs, ref)
}

func (bulkMutations *BulkMutations) Reset() {
	bulkMutations.Keys = bulkMutations.Keys[:0]
	bulkMutations.Muts = bulkMutations.Muts[:0]
	bulkMutations.Refs = bulkMutations.Refs[:0]
}

func (bulkMutations *BulkMutations) Len() int {
	return len(bulkMutations.Keys)
}

func (bulkMutations *BulkMutations) Less(i, j int) bool {
	return bulkMutations.Keys[i] < bulkMutations.Keys[j]
}

func (bulkMutations *BulkMutations) Swap(i, j int) {
	bulkMutations.Keys[i], bulkMutations.Keys[j] = bulkMutations.Keys[j], bulkMutations.Keys[i]
	bulkMutations.Muts[i], bulkMutations.Muts[j] = bulkMutations.Muts[j], bulkMutations.Muts[i]
	bulkMutations.Refs[i], bulkMutations.Refs[j] = bulkMutations.Refs[j], bulkMutations.Refs[i]
}
