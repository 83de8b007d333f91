package capability

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero/api"

	wasmabi "github.com/woxQAQ/i18n-greeter/api/wasm"
)

// Clock supplies the current time to time-based capabilities.
type Clock func() time.Time

// SystemClock reads the host's local wall clock.
func SystemClock() time.Time {
	return time.Now()
}

// FixedHour returns a clock that always reports the given hour. The time is
// in UTC so no DST transition can shift it.
func FixedHour(hour int) Clock {
	return func() time.Time {
		return time.Date(2024, time.January, 1, hour, 0, 0, 0, time.UTC)
	}
}

// HourCapability exposes hour() -> i32, the clock's hour in 0-23.
func HourCapability(clock Clock) Capability {
	if clock == nil {
		clock = SystemClock
	}
	return Capability{
		Name:    wasmabi.HourImport,
		Results: []api.ValueType{api.ValueTypeI32},
		Func: func(_ context.Context, _ []uint64) []uint64 {
			return []uint64{api.EncodeI32(int32(clock().Hour()))}
		},
	}
}
