package clock

import "time"

// Clock provides monotonic nanosecond timestamps to the engine.
// Backtests use a TestClock advanced by the data stream; live sessions
// use the wall clock.
type Clock interface {
	// TimeNow returns the current time.
	TimeNow() time.Time
	// TimestampNs returns the current time as UNIX nanoseconds.
	TimestampNs() int64
}

// LiveClock reads the system wall clock.
type LiveClock struct{}

func NewLiveClock() *LiveClock { return &LiveClock{} }

func (*LiveClock) TimeNow() time.Time { return time.Now().UTC() }

func (*LiveClock) TimestampNs() int64 { return time.Now().UTC().UnixNano() }

// TestClock advances only on demand. The backtest engine sets it to each
// data item's ts_init before processing, so all components observe a
// deterministic time.
type TestClock struct {
	timeNs int64
}

// NewTestClock creates a test clock at time zero.
func NewTestClock() *TestClock {
	return &TestClock{}
}

func (c *TestClock) TimeNow() time.Time { return time.Unix(0, c.timeNs).UTC() }

func (c *TestClock) TimestampNs() int64 { return c.timeNs }

// SetTime moves the clock to the given UNIX nanosecond timestamp.
// Moving backwards is not permitted: time in a backtest is monotonic.
func (c *TestClock) SetTime(tsNs int64) {
	if tsNs < c.timeNs {
		return // Ignore: data is merged in non-decreasing order upstream
	}
	c.timeNs = tsNs
}

// Reset returns the clock to time zero for a fresh run.
func (c *TestClock) Reset() { c.timeNs = 0 }

// AdvanceTime moves the clock forward by the given duration.
func (c *TestClock) AdvanceTime(d time.Duration) {
	c.timeNs += int64(d)
}
