package clientdata

import "time"

// DefaultTTL is used for search and history responses when no TTL is configured.
// Current prices never go through this cache.
const DefaultTTL = 10 * time.Minute
