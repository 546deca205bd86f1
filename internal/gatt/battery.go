package gatt

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/batmon/internal/radio"
)

// Standard GATT Battery Service identifiers
const (
	BatteryServiceUUID = "0000180f-0000-1000-8000-00805f9b34fb"
	BatteryLevelUUID   = "00002a19-0000-1000-8000-00805f9b34fb"
)

// Reader extracts the battery percentage from a live LE link.
type Reader struct {
	logger *logrus.Logger
}

// NewReader creates a battery reader
func NewReader(logger *logrus.Logger) *Reader {
	if logger == nil {
		logger = logrus.New()
	}
	return &Reader{logger: logger}
}

// ReadBattery discovers the Battery Service and Battery Level characteristic
// on the link and reads the percentage. Discovery is uncached on purpose:
// cached service tables on some radios go stale after reconnects.
func (r *Reader) ReadBattery(ctx context.Context, link radio.Link) (int, error) {
	services, err := link.DiscoverServices(ctx, []string{BatteryServiceUUID})
	if err != nil {
		return 0, fmt.Errorf("battery service discovery: %w", err)
	}

	svc := findByUUID(services, BatteryServiceUUID)
	if svc == nil {
		return 0, radio.NewError(radio.CategoryServiceNotFound,
			fmt.Sprintf("peripheral does not expose %s", KnownName(BatteryServiceUUID)), nil)
	}

	chars, err := link.DiscoverCharacteristics(ctx, svc, []string{BatteryLevelUUID})
	if err != nil {
		return 0, fmt.Errorf("battery level discovery: %w", err)
	}

	char := findCharByUUID(chars, BatteryLevelUUID)
	if char == nil {
		return 0, radio.NewError(radio.CategoryCharacteristicNotFound,
			fmt.Sprintf("%s has no %s characteristic", KnownName(BatteryServiceUUID), KnownName(BatteryLevelUUID)), nil)
	}

	payload, err := link.Read(ctx, char)
	if err != nil {
		// A categorized platform failure (access denied and friends) must
		// surface as-is; only uncategorized errors become read failures.
		if radio.CategoryOf(err) != radio.CategoryGeneric {
			return 0, fmt.Errorf("battery level read: %w", err)
		}
		return 0, radio.NewError(radio.CategoryReadFailed, "battery level read failed", err)
	}
	if len(payload) == 0 {
		return 0, radio.NewError(radio.CategoryReadFailed, "battery level read returned empty payload", nil)
	}

	// Battery Level is a single-byte percentage; any trailing bytes are
	// vendor noise and ignored.
	percent := int(payload[0])
	if percent > 100 {
		r.logger.WithField("raw", percent).Warn("Battery level above 100, clamping")
		percent = 100
	}

	return percent, nil
}

func findByUUID(services []radio.Service, uuid string) radio.Service {
	for _, s := range services {
		if radio.EqualUUID(s.UUID(), uuid) {
			return s
		}
	}
	return nil
}

func findCharByUUID(chars []radio.Characteristic, uuid string) radio.Characteristic {
	for _, c := range chars {
		if radio.EqualUUID(c.UUID(), uuid) {
			return c
		}
	}
	return nil
}
