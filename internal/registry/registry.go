package registry

import (
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/batmon/internal/radio"
)

// Status is the sanitized per-device state surfaced to the display layer.
// Raw platform errors never appear here; they are logged instead.
type Status int

const (
	StatusUnknown Status = iota
	StatusDisconnected
	StatusConnected
	StatusConnectedNoBatteryService
	StatusUnreachable
	StatusAccessDenied
	StatusError
)

var statusNames = map[Status]string{
	StatusUnknown:                   "Unknown",
	StatusDisconnected:              "Disconnected",
	StatusConnected:                 "Connected",
	StatusConnectedNoBatteryService: "ConnectedNoBatteryService",
	StatusUnreachable:               "Unreachable",
	StatusAccessDenied:              "AccessDenied",
	StatusError:                     "Error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Record tracks one paired peripheral across polling cycles. The Link slot
// exclusively owns the cached LE session; nil means no connection is cached.
type Record struct {
	ID             string
	DisplayName    string
	Status         Status
	BatteryPercent int
	Link           radio.Link
}

// Registry is the authoritative id-to-record mapping. Records are created
// only by Load and removed only by the next Load; a failed polling cycle
// never changes the key set. Iteration order is insertion order.
//
// All mutation goes through Update so the three record fields change
// together; readers never observe a half-applied cycle outcome.
type Registry struct {
	mu      sync.RWMutex
	records *orderedmap.OrderedMap[string, *Record]
	logger  *logrus.Logger
}

// New creates an empty registry
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		records: orderedmap.New[string, *Record](),
		logger:  logger,
	}
}

// Load replaces the entire record set with fresh records for the given
// peripherals. It returns the links cached by the previous generation so the
// caller can release them; the registry itself never performs I/O.
func (r *Registry) Load(peripherals []radio.Peripheral) []radio.Link {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []radio.Link
	for pair := r.records.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Link != nil {
			dropped = append(dropped, pair.Value.Link)
		}
	}

	r.records = orderedmap.New[string, *Record]()
	for _, p := range peripherals {
		if p.Name == "" {
			continue
		}
		r.records.Set(p.ID, &Record{
			ID:          p.ID,
			DisplayName: p.Name,
			Status:      StatusUnknown,
		})
	}

	r.logger.WithField("count", r.records.Len()).Info("Loaded device registry")
	return dropped
}

// IDs returns a snapshot of the current keys in insertion order. The snapshot
// is safe to iterate while other records are being updated.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, r.records.Len())
	for pair := r.records.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}

// Get returns a copy of the record for id. The copy shares the Link handle
// but mutating the copy does not touch the registry.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records.Get(id)
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Update applies fn to the record for id under the registry lock. fn must not
// perform I/O; it only swaps in-memory state. Returns false when id is not
// registered.
func (r *Registry) Update(id string, fn func(*Record)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records.Get(id)
	if !ok {
		return false
	}
	fn(rec)
	return true
}

// Len returns the number of tracked records
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records.Len()
}

// DropLinks detaches every cached link and returns them for release. Records
// fall back to StatusDisconnected unless they never completed a cycle.
func (r *Registry) DropLinks() []radio.Link {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []radio.Link
	for pair := r.records.Oldest(); pair != nil; pair = pair.Next() {
		rec := pair.Value
		if rec.Link == nil {
			continue
		}
		dropped = append(dropped, rec.Link)
		rec.Link = nil
		if rec.Status != StatusUnknown {
			rec.Status = StatusDisconnected
		}
		rec.BatteryPercent = 0
	}
	return dropped
}
