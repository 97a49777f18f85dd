package router

import "fmt"

// Tier identifies which storage tier served a response.
type Tier int

const (
	// TierHot is the in-process aggregate cache.
	TierHot Tier = iota
	// TierWarm is the transactional rolling-window store.
	TierWarm
	// TierCold is the archival parquet store.
	TierCold
	// TierStaleCache is an expired hot-cache entry served as last resort.
	TierStaleCache
)

// String returns the string representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierCold:
		return "cold"
	case TierStaleCache:
		return "stale-cache"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}
