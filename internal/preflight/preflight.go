// Package preflight runs the environment checks `stratus doctor` and
// `stratus apply` perform before touching any backend.
package preflight

import (
	"context"
	"time"

	"github.com/beevik/ntp"

	"stratus/internal/driver"
)

const (
	defaultNTPPool      = "pool.ntp.org"
	defaultNTPThreshold = 500 * time.Millisecond
)

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name   string
	OK     bool
	Detail string
}

// Checker runs the preflight suite against one driver.
type Checker struct {
	Driver driver.Driver

	// NTPPool and NTPThreshold override the clock check defaults.
	NTPPool      string
	NTPThreshold time.Duration
}

// Run executes every check and returns all results; it does not stop at the
// first failure so doctor output shows the full picture.
func (c *Checker) Run(ctx context.Context) []CheckResult {
	results := []CheckResult{
		c.checkClock(),
		c.checkDriver(ctx),
	}
	return results
}

// Healthy reports whether every result passed.
func Healthy(results []CheckResult) bool {
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return true
}

// checkClock compares the local clock against NTP. A skewed clock makes
// control-plane auth tokens invalid before they are used.
func (c *Checker) checkClock() CheckResult {
	pool := c.NTPPool
	if pool == "" {
		pool = defaultNTPPool
	}
	threshold := c.NTPThreshold
	if threshold <= 0 {
		threshold = defaultNTPThreshold
	}

	resp, err := ntp.Query(pool)
	if err != nil {
		// Offline hosts can still plan; apply will surface real failures.
		return CheckResult{Name: "clock", OK: true, Detail: "ntp unreachable, skipping: " + err.Error()}
	}

	offset := resp.ClockOffset
	if offset < 0 {
		offset = -offset
	}
	if offset >= threshold {
		return CheckResult{
			Name:   "clock",
			Detail: "local clock is " + resp.ClockOffset.String() + " off NTP; authentication will fail until it is synced",
		}
	}
	return CheckResult{Name: "clock", OK: true, Detail: "offset " + resp.ClockOffset.String()}
}

func (c *Checker) checkDriver(ctx context.Context) CheckResult {
	if c.Driver == nil {
		return CheckResult{Name: "driver", Detail: "no driver configured"}
	}
	name := "driver:" + c.Driver.Name()
	if err := c.Driver.Ping(ctx); err != nil {
		return CheckResult{Name: name, Detail: err.Error()}
	}
	return CheckResult{Name: name, OK: true, Detail: "reachable"}
}
