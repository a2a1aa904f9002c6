package gateway

import "time"

// RippleEpoch is 2000-01-01T00:00:00Z, the zero of ledger close times.
var RippleEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// RippleEpochOffset is RippleEpoch in Unix seconds.
const RippleEpochOffset int64 = 946684800

// FromRippleTime converts ledger-epoch seconds to wall-clock time.
func FromRippleTime(seconds uint32) time.Time {
	return time.Unix(int64(seconds)+RippleEpochOffset, 0).UTC()
}

// ToRippleTime converts a wall-clock time to ledger-epoch seconds.
func ToRippleTime(t time.Time) uint32 {
	return uint32(t.Unix() - RippleEpochOffset)
}
