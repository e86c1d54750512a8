// Package primitives provides versioning utilities for MachineConfig.
package primitives

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// ComputeVersion computes deterministic version for MachineConfig.
// Priority: user-provided config.Version, else hex of SHA256(config JSON)[:8].
func ComputeVersion(config *MachineConfig) string {
	if config.Version != "" {
		return config.Version
	}

	data, err := json.Marshal(config)
	if err != nil {
		// Fallback (should not happen for valid config)
		return fmt.Sprintf("invalid-%d", time.Now().Unix())
	}

	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash[:8])
}

// ComputeVersion is called from core.Machine.snapshotLocked to stamp every
// Snapshot with the graph version it was taken against, so a Persister can
// detect a config change across a restart.
