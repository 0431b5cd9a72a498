// Package storage holds the types shared by the store implementations.
package storage

// StatsFilter selects events for the stats queries. From and To are unix
// seconds, both inclusive. Empty strings mean no filter.
type StatsFilter struct {
	Namespace string
	EventType string
	From      int64
	To        int64
}

type Totals struct {
	Count       int64 `json:"count"`
	UniqueUsers int64 `json:"unique_users"`
}

type Bucket struct {
	BucketStart int64 `json:"bucket_start"`
	Count       int64 `json:"count"`
	UniqueUsers int64 `json:"unique_users"`
}
