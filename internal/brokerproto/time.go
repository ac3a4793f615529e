package brokerproto

import "time"

// timeLayout is the wire timestamp format, RFC3339 with nanosecond
// precision so sub-millisecond ordering survives the broker round-trip.
const timeLayout = time.RFC3339Nano

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
