package radio

import (
	"context"
)

// Peripheral is one entry of the host stack's paired-device list.
type Peripheral struct {
	ID   string // stable identifier, independent of the radio address
	Name string
}

// Radio is the capability surface of the host Bluetooth stack. Everything the
// polling pipeline does goes through this interface; tests substitute a mock.
type Radio interface {
	// PairedPeripherals lists the devices paired/bonded with the host
	// adapter. Entries without a name are filtered out by callers.
	PairedPeripherals(ctx context.Context) ([]Peripheral, error)

	// ResolveAddress maps a peripheral identifier to its radio address.
	// Fails with ErrNotFound when the identifier is unknown to the stack,
	// ErrAddressResolutionFailed on any other resolution problem.
	ResolveAddress(ctx context.Context, id string) (string, error)

	// Dial opens a low-energy link to the given address. Fails with
	// ErrLinkFailed when the platform yields no usable link, which is also
	// the case for peripherals that deny LE visibility to the host.
	Dial(ctx context.Context, addr string) (Link, error)
}

// Link is an established low-energy session to one peripheral. A Link is
// owned by exactly one registry record at a time.
type Link interface {
	// Connected reports whether the session is still live. A cached link
	// must be re-verified through this before reuse; staleness is expected.
	Connected() bool

	// DiscoverServices queries the peripheral for services matching the
	// given UUIDs. The query always goes to the radio, never to a cache:
	// cached GATT tables on some stacks go stale across reconnects.
	DiscoverServices(ctx context.Context, uuids []string) ([]Service, error)

	// DiscoverCharacteristics queries a service for matching
	// characteristics, uncached for the same reason.
	DiscoverCharacteristics(ctx context.Context, svc Service, uuids []string) ([]Characteristic, error)

	// Read reads the current value of a characteristic.
	Read(ctx context.Context, c Characteristic) ([]byte, error)

	// Close releases the session. Best effort: a non-responsive peripheral
	// must not wedge shutdown.
	Close() error
}

// Service is an opaque handle to a discovered GATT service.
type Service interface {
	UUID() string
}

// Characteristic is an opaque handle to a discovered GATT characteristic.
type Characteristic interface {
	UUID() string
}
