// Package testing prepares the process environment for package tests. Import
// it for side effects:
//
//	import _ "github.com/odyssey-erp/odyssey-ledger/testing"
//
// Binaries then skip their startup side effects and configuration loads see
// only defaults, whatever the developer shell exports.
package testing

import (
	"os"
	"strings"
)

// TestModeEnv is read by app.InTestMode.
const TestModeEnv = "ODYSSEY_TEST_MODE"

// configPrefixes are the environment namespaces read by app.LoadConfig.
var configPrefixes = []string{"APP_", "LOG_", "PG_", "REDIS_", "WORKER_", "LEDGER_"}

func init() {
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if isConfigKey(key) {
			_ = os.Unsetenv(key)
		}
	}
	_ = os.Setenv(TestModeEnv, "1")
}

func isConfigKey(key string) bool {
	for _, p := range configPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
