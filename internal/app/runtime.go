package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// TestModeEnv marks a process started by go test. Binaries return early when it is set.
const TestModeEnv = "GIIP_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeInit sync.Once
)

func readTestMode() {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	testMode.Store(err == nil && on)
}

// InTestMode reports whether binaries should skip dialing Postgres and Redis.
func InTestMode() bool {
	testModeInit.Do(readTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads the environment, for tests that toggle the flag.
func RefreshTestMode() {
	testModeInit.Do(func() {})
	readTestMode()
}
