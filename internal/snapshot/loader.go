package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads a combined snapshot file: a JSON object with the named slots
// (`pod`, `events`, optional `pvc`, `pv`, ...). Unknown extra keys are
// ignored per the loader contract.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %q: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %q: %w", path, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", path, err)
	}
	return &snap, nil
}

// ReadObjectFile reads a single-object JSON file into a raw slot,
// verifying that it holds valid JSON.
func ReadObjectFile(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%q does not contain valid JSON", path)
	}
	return json.RawMessage(data), nil
}

// Assemble builds a snapshot from per-object file paths, the legacy flat
// invocation style. Empty paths leave the slot nil. The pod path is
// required; events may be omitted entirely.
func Assemble(paths map[string]string) (*Snapshot, error) {
	snap := &Snapshot{}
	slots := map[string]*json.RawMessage{
		"pod":            &snap.Pod,
		"events":         &snap.Events,
		"pvc":            &snap.PVC,
		"pv":             &snap.PV,
		"storageclass":   &snap.StorageClass,
		"node":           &snap.Node,
		"owner":          &snap.Owner,
		"serviceaccount": &snap.ServiceAccount,
		"secrets":        &snap.Secrets,
		"configmaps":     &snap.ConfigMaps,
	}
	for slot, path := range paths {
		if path == "" {
			continue
		}
		target, ok := slots[slot]
		if !ok {
			return nil, fmt.Errorf("unknown snapshot slot %q", slot)
		}
		raw, err := ReadObjectFile(path)
		if err != nil {
			return nil, err
		}
		*target = raw
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}
