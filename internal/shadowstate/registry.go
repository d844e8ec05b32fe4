package shadowstate

import "sync"

// SubscriptionRegistry records what each zone subscribes to so the API can
// show a zone's wiring
type SubscriptionRegistry struct {
	mu         sync.RWMutex
	entities   map[string][]string // zone -> []entityID
	eventTypes map[string][]string // zone -> []event type
	topics     map[string][]string // zone -> []MQTT topic
}

// NewSubscriptionRegistry creates a new subscription registry
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		entities:   make(map[string][]string),
		eventTypes: make(map[string][]string),
		topics:     make(map[string][]string),
	}
}

// RegisterEntity records a Home Assistant state subscription
func (r *SubscriptionRegistry) RegisterEntity(zoneName, entityID string) {
	r.register(r.entities, zoneName, entityID)
}

// RegisterEventType records a Home Assistant bus event subscription
func (r *SubscriptionRegistry) RegisterEventType(zoneName, eventType string) {
	r.register(r.eventTypes, zoneName, eventType)
}

// RegisterTopic records an MQTT subscription
func (r *SubscriptionRegistry) RegisterTopic(zoneName, topic string) {
	r.register(r.topics, zoneName, topic)
}

func (r *SubscriptionRegistry) register(m map[string][]string, zoneName, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range m[zoneName] {
		if existing == value {
			return
		}
	}
	m[zoneName] = append(m[zoneName], value)
}

// Sources returns a copy of everything a zone subscribes to
func (r *SubscriptionRegistry) Sources(zoneName string) Sources {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Sources{
		Entities:   copyStrings(r.entities[zoneName]),
		EventTypes: copyStrings(r.eventTypes[zoneName]),
		Topics:     copyStrings(r.topics[zoneName]),
	}
}

// Unregister removes all registrations of a zone
func (r *SubscriptionRegistry) Unregister(zoneName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entities, zoneName)
	delete(r.eventTypes, zoneName)
	delete(r.topics, zoneName)
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
