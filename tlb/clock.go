package tlb

import "time"

// clockNow is an injectable clock seam, the same test-swap idiom used by
// tiers and profile (itself grounded on catrate's timeNow).
var clockNow = time.Now
