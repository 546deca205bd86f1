package sensors

import (
	"sync/atomic"

	"github.com/cornelk/hashmap"
)

// Fields is the externally visible display state of one device: a name label,
// a sanitized status string, and a battery percentage (0-100, unit "%").
// Values are immutable snapshots; a publish replaces the whole set so readers
// never see a half-updated device.
type Fields struct {
	Name    string
	Status  string
	Battery int
}

// Store holds the display fields for every tracked device. The display layer
// reads it concurrently with the polling cycle, so entries live in a
// lock-free map and are swapped wholesale.
type Store struct {
	fields atomic.Pointer[hashmap.Map[string, *Fields]]
	order  atomic.Pointer[[]string]
}

// NewStore creates an empty field store
func NewStore() *Store {
	s := &Store{}
	s.fields.Store(hashmap.New[string, *Fields]())
	empty := make([]string, 0)
	s.order.Store(&empty)
	return s
}

// Reset recreates the field set for a freshly loaded device list. Field
// creation happens once per load; cycles only mutate existing entries.
func (s *Store) Reset(ids []string, names map[string]string) {
	fields := hashmap.New[string, *Fields]()
	for _, id := range ids {
		fields.Set(id, &Fields{
			Name:   names[id],
			Status: "Unknown",
		})
	}
	snapshot := make([]string, len(ids))
	copy(snapshot, ids)

	s.fields.Store(fields)
	s.order.Store(&snapshot)
}

// Publish replaces the status and battery fields of one device. The name is
// carried over from load time; it never changes afterwards.
func (s *Store) Publish(id, status string, battery int) {
	fields := s.fields.Load()
	current, ok := fields.Get(id)
	if !ok {
		return
	}
	fields.Set(id, &Fields{
		Name:    current.Name,
		Status:  status,
		Battery: battery,
	})
}

// Get returns the current field snapshot for a device
func (s *Store) Get(id string) (Fields, bool) {
	f, ok := s.fields.Load().Get(id)
	if !ok {
		return Fields{}, false
	}
	return *f, true
}

// IDs returns the device ids in load order
func (s *Store) IDs() []string {
	return *s.order.Load()
}

// Len returns the number of devices with display fields
func (s *Store) Len() int {
	return s.fields.Load().Len()
}
