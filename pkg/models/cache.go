package models

// CacheStats reports delivery cache performance counters.
type CacheStats struct {
	Entries         int64 `json:"entries"`
	Hits            int64 `json:"hits"`
	Misses          int64 `json:"misses"`
	StaleServed     int64 `json:"stale_served"`
	Fetches         int64 `json:"fetches"`
	PrefetchFetches int64 `json:"prefetch_fetches"`
	FetchErrors     int64 `json:"fetch_errors"`
	PrefetchSkipped int64 `json:"prefetch_skipped"`
}
