package radio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	bluezService = "org.bluez"
	deviceIface  = "org.bluez.Device1"

	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propertiesIface    = "org.freedesktop.DBus.Properties"

	dialTimeout = 30 * time.Second
)

// DeviceFactory creates the ble.Device used for LE dialing (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

// SystemBusFactory connects to the D-Bus system bus (can be overridden in tests)
var SystemBusFactory = func() (*dbus.Conn, error) {
	return dbus.ConnectSystemBus()
}

// BlueZRadio implements Radio against a Linux host stack: the paired-device
// list and address book live in BlueZ and are queried over D-Bus, while LE
// sessions go through the HCI socket via go-ble.
type BlueZRadio struct {
	conn   *dbus.Conn
	logger *logrus.Logger

	dialMu  sync.Mutex
	dialDev ble.Device
}

// NewBlueZRadio opens the system-bus connection used for all BlueZ queries.
func NewBlueZRadio(logger *logrus.Logger) (*BlueZRadio, error) {
	if logger == nil {
		logger = logrus.New()
	}

	conn, err := SystemBusFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	return &BlueZRadio{
		conn:   conn,
		logger: logger,
	}, nil
}

// PairedPeripherals walks the BlueZ object tree and returns every paired
// device. Results are sorted by identifier so callers see a stable order.
func (r *BlueZRadio) PairedPeripherals(ctx context.Context) ([]Peripheral, error) {
	obj := r.conn.Object(bluezService, "/")

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := obj.CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return nil, NewError(CategoryDiscoveryFailure, "failed to get managed objects", err)
	}

	peripherals := make([]Peripheral, 0, len(objects))
	for path, interfaces := range objects {
		props, ok := interfaces[deviceIface]
		if !ok {
			continue
		}

		paired, _ := props["Paired"].Value().(bool)
		if !paired {
			continue
		}

		name, _ := props["Alias"].Value().(string)
		peripherals = append(peripherals, Peripheral{
			ID:   string(path),
			Name: name,
		})
	}

	sort.Slice(peripherals, func(i, j int) bool {
		return peripherals[i].ID < peripherals[j].ID
	})

	r.logger.WithField("count", len(peripherals)).Debug("Enumerated paired peripherals")
	return peripherals, nil
}

// ResolveAddress looks up the radio address of a paired device by its BlueZ
// object path.
func (r *BlueZRadio) ResolveAddress(ctx context.Context, id string) (string, error) {
	obj := r.conn.Object(bluezService, dbus.ObjectPath(id))

	var variant dbus.Variant
	err := obj.CallWithContext(ctx, propertiesIface+".Get", 0, deviceIface, "Address").Store(&variant)
	if err != nil {
		if isUnknownObjectError(err) {
			return "", NewError(CategoryNotFound, fmt.Sprintf("peripheral %q not known to BlueZ", id), err)
		}
		return "", NewError(CategoryAddressResolutionFailed, fmt.Sprintf("failed to read address of %q", id), err)
	}

	addr, ok := variant.Value().(string)
	if !ok || addr == "" {
		return "", NewError(CategoryAddressResolutionFailed, fmt.Sprintf("peripheral %q has no address", id), nil)
	}

	return addr, nil
}

// Dial opens a low-energy session to the given radio address.
func (r *BlueZRadio) Dial(ctx context.Context, addr string) (Link, error) {
	if err := r.ensureDialDevice(); err != nil {
		return nil, err
	}

	r.logger.WithField("address", addr).Debug("Dialing LE link")

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client, err := ble.Dial(dialCtx, ble.NewAddr(addr))
	if err != nil {
		return nil, NewError(CategoryLinkFailed, fmt.Sprintf("failed to open LE link to %s", addr), err)
	}
	if client == nil {
		// Some stacks report success but hand back nothing usable, typically
		// for peripherals hiding their LE presence from the host.
		return nil, NewError(CategoryLinkFailed, fmt.Sprintf("no usable LE link to %s", addr), nil)
	}

	return &bleLink{client: client, logger: r.logger}, nil
}

// ensureDialDevice lazily creates the HCI device backing ble.Dial.
func (r *BlueZRadio) ensureDialDevice() error {
	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	if r.dialDev != nil {
		return nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		return NewError(CategoryLinkFailed, "failed to create LE device", err)
	}
	ble.SetDefaultDevice(dev)
	r.dialDev = dev
	return nil
}

// Close releases the system-bus connection and the HCI device.
func (r *BlueZRadio) Close() error {
	r.dialMu.Lock()
	dev := r.dialDev
	r.dialDev = nil
	r.dialMu.Unlock()

	var devErr error
	if dev != nil {
		devErr = dev.Stop()
	}

	connErr := r.conn.Close()
	if devErr != nil {
		return devErr
	}
	return connErr
}

// isUnknownObjectError reports whether a D-Bus error means the object path
// does not exist on the bus.
func isUnknownObjectError(err error) bool {
	var derr dbus.Error
	if errors.As(err, &derr) {
		switch derr.Name {
		case "org.freedesktop.DBus.Error.UnknownObject",
			"org.freedesktop.DBus.Error.UnknownMethod",
			"org.bluez.Error.DoesNotExist":
			return true
		}
	}
	return false
}

// ----------------------------
// LE link over go-ble
// ----------------------------

type bleLink struct {
	client ble.Client
	logger *logrus.Logger
}

// Connected reports liveness of the underlying session. go-ble closes the
// Disconnected channel when the peer drops, so this never blocks.
func (l *bleLink) Connected() bool {
	select {
	case <-l.client.Disconnected():
		return false
	default:
		return true
	}
}

func (l *bleLink) DiscoverServices(ctx context.Context, uuids []string) ([]Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, NewError(CategoryGeneric, "invalid service UUID filter", err)
	}

	// Always hits the radio; go-ble does not cache the GATT table, which is
	// what we want after reconnects.
	svcs, err := l.client.DiscoverServices(filter)
	if err != nil {
		return nil, Normalize(err)
	}

	result := make([]Service, 0, len(svcs))
	for _, s := range svcs {
		result = append(result, &bleService{svc: s})
	}
	return result, nil
}

func (l *bleLink) DiscoverCharacteristics(ctx context.Context, svc Service, uuids []string) ([]Characteristic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bsvc, ok := svc.(*bleService)
	if !ok {
		return nil, NewError(CategoryGeneric, fmt.Sprintf("foreign service handle %T", svc), nil)
	}

	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, NewError(CategoryGeneric, "invalid characteristic UUID filter", err)
	}

	chars, err := l.client.DiscoverCharacteristics(filter, bsvc.svc)
	if err != nil {
		return nil, Normalize(err)
	}

	result := make([]Characteristic, 0, len(chars))
	for _, c := range chars {
		result = append(result, &bleCharacteristic{char: c})
	}
	return result, nil
}

func (l *bleLink) Read(ctx context.Context, c Characteristic) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bchar, ok := c.(*bleCharacteristic)
	if !ok {
		return nil, NewError(CategoryGeneric, fmt.Sprintf("foreign characteristic handle %T", c), nil)
	}

	data, err := l.client.ReadCharacteristic(bchar.char)
	if err != nil {
		return nil, Normalize(err)
	}
	return data, nil
}

func (l *bleLink) Close() error {
	if err := l.client.CancelConnection(); err != nil {
		l.logger.WithError(err).Warn("Error releasing LE link")
		return err
	}
	return nil
}

type bleService struct {
	svc *ble.Service
}

func (s *bleService) UUID() string {
	return NormalizeUUID(s.svc.UUID.String())
}

type bleCharacteristic struct {
	char *ble.Characteristic
}

func (c *bleCharacteristic) UUID() string {
	return NormalizeUUID(c.char.UUID.String())
}
