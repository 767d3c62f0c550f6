package store

import "time"

// unixNanoUTC turns a stored int64 nanosecond timestamp back into a
// UTC time.Time. Every timestamp column in this package is UnixNano, chosen
// over SQLite's native string datetime format so that ordering and range
// queries stay pure integer comparisons rather than string parses.
func unixNanoUTC(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}
