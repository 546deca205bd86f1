package gatt

import "github.com/srg/batmon/internal/radio"

// Known GATT identifiers this tool talks about, keyed by normalized UUID.
// Only the entries that can actually show up in our logs are listed.
var knownNames = map[string]string{
	"0000180f00001000800000805f9b34fb": "Battery Service",
	"00002a1900001000800000805f9b34fb": "Battery Level",
	"0000180a00001000800000805f9b34fb": "Device Information",
	"0000180000001000800000805f9b34fb": "Generic Access",
	"0000180100001000800000805f9b34fb": "Generic Attribute",
}

// KnownName returns a human-readable name for a GATT UUID, or the normalized
// UUID itself when unknown.
func KnownName(uuid string) string {
	normalized := radio.NormalizeUUID(uuid)
	if name, ok := knownNames[normalized]; ok {
		return name
	}
	return normalized
}
