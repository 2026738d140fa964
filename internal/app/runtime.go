package app

import (
	"os"
	"sync"
)

// testModeEnv is set by the testing package on import.
const testModeEnv = "ODYSSEY_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})

// InTestMode reports whether binaries should skip runtime side effects.
// The flag is read once per process.
func InTestMode() bool {
	return testMode()
}
