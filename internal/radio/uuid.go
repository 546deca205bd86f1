package radio

import (
	"strings"

	"github.com/go-ble/ble"
)

// NormalizeUUID converts a UUID string to the internal BLE library format
// (lowercase, no dashes). Accepts both dashed and already-normalized forms.
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// EqualUUID compares two UUID strings ignoring case and dashes.
func EqualUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

// parseUUIDs converts UUID strings to ble.UUID filter values
func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	parsed := make([]ble.UUID, 0, len(uuids))
	for _, u := range uuids {
		p, err := ble.Parse(u)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, p)
	}
	return parsed, nil
}
