package hedge

import "strconv"

// RetryCountHeader is the outbound header name stamped on every hedged attempt after the first (spec §6). Attempt 0
// never carries it.
const RetryCountHeader = "armeria-retry-count"

// RetryCountHeaderValue formats attemptIndex the way RetryCountHeader expects: ASCII decimal, no sign.
func RetryCountHeaderValue(attemptIndex int) string {
	return strconv.Itoa(attemptIndex)
}
