package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kubeovn/ovsbridge/pkg/util"
)

// Load reads and parses a Snapshot from a YAML file at path. A missing
// file is treated as an empty Snapshot (no bridges configured yet)
// rather than an error, since the reconfigure loop polls this path
// continuously and may start before it's first written.
func Load(path string) (Snapshot, error) {
	snap, _, err := loadWithHash(path)
	return snap, err
}

// LoadIfChanged reads path and parses it into a Snapshot only when its
// content hash differs from lastHash, letting the reconfigure loop skip
// a full diff-and-apply pass when the file hasn't changed since the
// last poll. changed is false (with a zero Snapshot) when the hash
// still matches.
func LoadIfChanged(path, lastHash string) (snap Snapshot, hash string, changed bool, err error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		hash = util.Sha256Hash(nil)
		return Snapshot{Bridges: map[string]BridgeConfig{}}, hash, hash != lastHash, nil
	}
	if err != nil {
		return Snapshot{}, "", false, fmt.Errorf("config: failed to read %q: %w", path, err)
	}
	hash = util.Sha256Hash(raw)
	if hash == lastHash {
		return Snapshot{}, hash, false, nil
	}
	snap, err = parse(raw, path)
	return snap, hash, true, err
}

func loadWithHash(path string) (Snapshot, string, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Snapshot{Bridges: map[string]BridgeConfig{}}, "", nil
	}
	if err != nil {
		return Snapshot{}, "", fmt.Errorf("config: failed to read %q: %w", path, err)
	}
	snap, err := parse(raw, path)
	return snap, util.Sha256Hash(raw), err
}

func parse(raw []byte, path string) (Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("config: failed to parse %q: %w", path, err)
	}
	if snap.Bridges == nil {
		snap.Bridges = map[string]BridgeConfig{}
	}
	return snap, nil
}
