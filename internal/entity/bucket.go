package entity

// BucketType selects the granularity of indexer volume/activity buckets.
// Hourly buckets back the 1h/24h windows, daily buckets the longer ones.
type BucketType string

const (
	BucketHourly BucketType = "hourly"
	BucketDaily  BucketType = "daily"
)

// VolumeBucket is one per-pool aggregation bucket from the indexer. Volumes
// are raw fixed-point token units; pricing and unit conversion happen in the
// aggregator.
type VolumeBucket struct {
	PoolAddress string     `json:"poolAddress"`
	Type        BucketType `json:"type"`
	StartTime   int64      `json:"startTime"`
	Volume0     string     `json:"volume0"`
	Volume1     string     `json:"volume1"`
	TradeCount  uint64     `json:"tradeCount"`
}

// TokenVolumeBucket is a per-token hourly volume bucket, available from the
// indexer only for short windows.
type TokenVolumeBucket struct {
	TokenAddress string `json:"tokenAddress"`
	StartTime    int64  `json:"startTime"`
	Volume       string `json:"volume"`
}
