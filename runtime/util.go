package runtime

import (
	"path/filepath"
	"strings"
	"time"
)

// epochDeadlineTicks converts a policy timeout in milliseconds into
// engine epoch ticks relative to the store's creation. A store
// without a timeout gets a deadline the heartbeat never reaches. The
// +2 keeps the epoch trap from firing before the wall-clock deadline
// RunInstance classifies against.
func epochDeadlineTicks(timeoutMS *int64) uint64 {
	if timeoutMS == nil {
		return 1 << 62
	}
	return uint64(time.Duration(*timeoutMS)*time.Millisecond/epochInterval) + 2
}

// envKeys and envValues split Policy.EnvVars ("KEY=VALUE" entries,
// validated by Policy.Validate) into the parallel slices
// wasmtime.WasiConfig.SetEnv expects.
func envKeys(vars []string) []string {
	keys := make([]string, 0, len(vars))
	for _, kv := range vars {
		k, _, _ := strings.Cut(kv, "=")
		keys = append(keys, k)
	}
	return keys
}

func envValues(vars []string) []string {
	values := make([]string, 0, len(vars))
	for _, kv := range vars {
		_, v, _ := strings.Cut(kv, "=")
		values = append(values, v)
	}
	return values
}

func isAbs(path string) bool {
	return filepath.IsAbs(path)
}

func joinPath(root, rel string) string {
	return filepath.Join(root, rel)
}
