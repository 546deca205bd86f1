package testutils

import (
	"context"
	"sync"

	"github.com/srg/batmon/internal/radio"
)

// MockRadio is a scriptable Radio implementation with call counters, used to
// drive the polling pipeline in tests without a Bluetooth stack.
type MockRadio struct {
	mu sync.Mutex

	Peripherals  []radio.Peripheral
	EnumerateErr error

	Addresses  map[string]string // id -> radio address
	ResolveErr map[string]error  // id -> forced resolution failure
	DialErr    map[string]error  // addr -> forced dial failure
	Links      map[string]*MockLink

	// DialHook, when set, runs at the start of every Dial outside the mock's
	// lock. Tests use it to hold a dial in flight.
	DialHook func(addr string)

	EnumerateCalls int
	ResolveCalls   int
	DialCalls      int
}

// NewMockRadio creates an empty mock radio
func NewMockRadio() *MockRadio {
	return &MockRadio{
		Addresses:  make(map[string]string),
		ResolveErr: make(map[string]error),
		DialErr:    make(map[string]error),
		Links:      make(map[string]*MockLink),
	}
}

// AddPeripheral scripts one paired device with its address and link
func (m *MockRadio) AddPeripheral(id, name, addr string, link *MockLink) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Peripherals = append(m.Peripherals, radio.Peripheral{ID: id, Name: name})
	m.Addresses[id] = addr
	if link != nil {
		m.Links[addr] = link
	}
}

func (m *MockRadio) PairedPeripherals(ctx context.Context) ([]radio.Peripheral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EnumerateCalls++
	if m.EnumerateErr != nil {
		return nil, m.EnumerateErr
	}
	out := make([]radio.Peripheral, len(m.Peripherals))
	copy(out, m.Peripherals)
	return out, nil
}

func (m *MockRadio) ResolveAddress(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ResolveCalls++
	if err := m.ResolveErr[id]; err != nil {
		return "", err
	}
	addr, ok := m.Addresses[id]
	if !ok {
		return "", radio.NewError(radio.CategoryNotFound, "unknown peripheral "+id, nil)
	}
	return addr, nil
}

func (m *MockRadio) Dial(ctx context.Context, addr string) (radio.Link, error) {
	if m.DialHook != nil {
		m.DialHook(addr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.DialCalls++
	if err := m.DialErr[addr]; err != nil {
		return nil, err
	}
	link, ok := m.Links[addr]
	if !ok {
		return nil, radio.NewError(radio.CategoryLinkFailed, "no LE link for "+addr, nil)
	}
	link.SetAlive(true)
	return link, nil
}

// PlatformCalls returns the total number of resolve and dial operations
func (m *MockRadio) PlatformCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ResolveCalls + m.DialCalls
}

// MockLink is a scriptable LE link. The GATT shape is described by flags;
// every discovery and read is counted.
type MockLink struct {
	mu sync.Mutex

	alive bool

	HasBatteryService bool
	HasBatteryLevel   bool
	Battery           byte
	Payload           []byte // overrides Battery when non-nil

	DiscoverServicesErr error
	DiscoverCharsErr    error
	ReadErr             error

	DiscoverServicesCalls        int
	DiscoverCharacteristicsCalls int
	ReadCalls                    int
	CloseCalls                   int
}

const (
	mockBatteryServiceUUID = "0000180f00001000800000805f9b34fb"
	mockBatteryLevelUUID   = "00002a1900001000800000805f9b34fb"
)

func (l *MockLink) SetAlive(alive bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alive = alive
}

func (l *MockLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alive
}

func (l *MockLink) DiscoverServices(ctx context.Context, uuids []string) ([]radio.Service, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.DiscoverServicesCalls++
	if l.DiscoverServicesErr != nil {
		return nil, l.DiscoverServicesErr
	}
	if !l.HasBatteryService {
		return nil, nil
	}
	return []radio.Service{mockHandle(mockBatteryServiceUUID)}, nil
}

func (l *MockLink) DiscoverCharacteristics(ctx context.Context, svc radio.Service, uuids []string) ([]radio.Characteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.DiscoverCharacteristicsCalls++
	if l.DiscoverCharsErr != nil {
		return nil, l.DiscoverCharsErr
	}
	if !l.HasBatteryLevel {
		return nil, nil
	}
	return []radio.Characteristic{mockHandle(mockBatteryLevelUUID)}, nil
}

func (l *MockLink) Read(ctx context.Context, c radio.Characteristic) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ReadCalls++
	if l.ReadErr != nil {
		return nil, l.ReadErr
	}
	if l.Payload != nil {
		return l.Payload, nil
	}
	return []byte{l.Battery}, nil
}

func (l *MockLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.CloseCalls++
	l.alive = false
	return nil
}

// mockHandle doubles as a service and characteristic handle
type mockHandle string

func (h mockHandle) UUID() string {
	return string(h)
}
