package backend

import "encoding/json"

// Event is one raw change record delivered by the backend's webhook callback.
type Event struct {
	ID                string   `json:"id"`
	ObjectID          string   `json:"objectID"`
	ObjectType        string   `json:"objectType"`
	ChangedProperties []string `json:"changedProperties"`
}

// EntityKey is the id the event is deduplicated and enriched by: the
// originating entity id when present, else the event id.
func (e Event) EntityKey() string {
	if e.ObjectID != "" {
		return e.ObjectID
	}
	return e.ID
}

// HasChangedProperty reports whether the event's changed-property set
// contains the given property name.
func (e Event) HasChangedProperty(name string) bool {
	for _, p := range e.ChangedProperties {
		if p == name {
			return true
		}
	}
	return false
}

// Entity is authoritative current-state data fetched from the backend.
// Details carries the full entity body; TaskID is populated for execution
// results so they can be resolved through their owning task.
type Entity struct {
	ID      string          `json:"id"`
	TaskID  string          `json:"taskID,omitempty"`
	Details json.RawMessage `json:"details"`
}

// Identity is a backend user identity in directory\name form.
type Identity string

// DefaultIdentity is the service identity analytic sessions run under when a
// data-alert condition does not name a user.
const DefaultIdentity Identity = `INTERNAL\sa_api`

// NotificationDef is the registration payload sent to the backend when a
// configured notification is asserted.
type NotificationDef struct {
	// Handle is the stable notification id the backend will call back with.
	Handle string `json:"handle"`

	ObjectType string `json:"name"`
	ChangeType int    `json:"changeType"`
	Condition  string `json:"condition,omitempty"`
	Filter     string `json:"filter,omitempty"`

	// CallbackURI is where the backend should POST change events.
	CallbackURI string `json:"uri"`
}
