package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// TestModeEnv, when truthy, makes the binaries exit before opening stores.
const TestModeEnv = "CLUBROSTER_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeInit sync.Once
)

// InTestMode reports whether TestModeEnv was set when first asked or at the last
// RefreshTestMode.
func InTestMode() bool {
	testModeInit.Do(RefreshTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads TestModeEnv. Values parse like strconv.ParseBool;
// anything unparsable counts as false.
func RefreshTestMode() {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	testMode.Store(err == nil && on)
}
