package config

import "encoding/json"

type Config struct {
	General GeneralConfig `json:"general"`
	Logging LoggingConfig `json:"logging"`

	// Plugins controls plugin logging only. Which plugins exist is decided at
	// build/registration time; callbacks reference them by name.
	Plugins PluginsConfig `json:"plugins,omitempty"`

	// Environments are the backend instances notifications can reference.
	Environments []Environment `json:"environments"`

	Registrar RegistrarConfig `json:"registrar,omitempty"`

	Notifications []Notification `json:"notifications"`
}

type GeneralConfig struct {
	// Port the callback listener binds to.
	Port int `json:"port"`

	// URI is the externally reachable base URI of this gateway; the backend is
	// told to deliver callbacks to <uri>:<port>/notifications/callback/<id>.
	URI string `json:"uri"`

	// AdminSecret guards the reload/verify admin endpoints. Empty disables them.
	AdminSecret string `json:"admin_secret,omitempty"`

	// RatePerSec caps inbound callback requests. 0 means default (50).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level,omitempty"`
	Console bool           `json:"console,omitempty"`
	File    FileLogConfig  `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// PluginsConfig sets the default log level for all plugin loggers plus
// per-plugin overrides, keyed by plugin (meta) name.
type PluginsConfig struct {
	Level     string            `json:"level,omitempty"`
	Overrides map[string]string `json:"overrides,omitempty"`
}

// LevelFor resolves the effective log level for one plugin.
func (p PluginsConfig) LevelFor(name string) string {
	if lvl, ok := p.Overrides[name]; ok && lvl != "" {
		return lvl
	}
	return p.Level
}

type Environment struct {
	Name string `json:"name"`
	Host string `json:"host"`
}

type RegistrarConfig struct {
	// Sweep is a cron spec for periodically re-asserting backend
	// subscriptions. Empty disables the sweep.
	Sweep string `json:"sweep,omitempty"`
}

type NotificationKind string

const (
	KindRepo      NotificationKind = "repo"
	KindDataAlert NotificationKind = "dataalert"
)

// Notification is one configured subscription. Repo-kind notifications relay
// backend change events (optionally enriched); dataalert-kind notifications
// gate delivery on analytic condition evaluation.
type Notification struct {
	ID          string           `json:"id"`
	Kind        NotificationKind `json:"kind"`
	Name        string           `json:"name,omitempty"`
	Environment string           `json:"environment"`

	// Repo-kind fields.
	ObjectType   string `json:"object_type,omitempty"`
	ChangeType   string `json:"change_type,omitempty"`
	Condition    string `json:"condition,omitempty"`
	PropertyName string `json:"property_name,omitempty"`

	// Filter selects entities on the backend. For dataalert-kind it must
	// resolve to exactly one target entity.
	Filter string `json:"filter,omitempty"`

	Options NotificationOptions `json:"options,omitempty"`

	Callbacks []Callback `json:"callbacks"`

	// DataAlert-kind only.
	DataConditions []DataAlertCondition `json:"data_conditions,omitempty"`
}

type NotificationOptions struct {
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`

	// Whitelist is the set of origin hosts allowed to deliver callbacks for
	// this notification, in addition to the environment host.
	Whitelist []string `json:"whitelist,omitempty"`

	// DisableCors admits callbacks regardless of origin.
	DisableCors bool `json:"disable_cors,omitempty"`

	// GetEntityDetails defaults to true when omitted (repo-kind only).
	GetEntityDetails *bool `json:"get_entity_details,omitempty"`
}

// IsEnabled reports the effective enabled state (omitted means enabled).
func (n Notification) IsEnabled() bool {
	return n.Options.Enabled == nil || *n.Options.Enabled
}

// WantsEntityDetails reports whether events should be enriched with
// authoritative entity state (omitted means yes).
func (n Notification) WantsEntityDetails() bool {
	return n.Options.GetEntityDetails == nil || *n.Options.GetEntityDetails
}

// Callback is one delivery target. Details is opaque to the core and decoded
// only by the plugin named in Type.
type Callback struct {
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Active reports whether the callback should be invoked (omitted means yes).
func (c Callback) Active() bool { return c.Enabled == nil || *c.Enabled }

// DataAlertCondition groups selections and conditions evaluated inside one
// analytic session. User defaults to the backend's service identity.
type DataAlertCondition struct {
	User       string      `json:"user,omitempty"`
	Selections []Selection `json:"selections,omitempty"`
	Conditions []Condition `json:"conditions"`
}

// Selection is either a field selection (Field + Values) or a bookmark apply
// (Bookmark). Selections run in declared order after a full clear.
type Selection struct {
	Field    string   `json:"field,omitempty"`
	Values   []string `json:"values,omitempty"`
	Bookmark string   `json:"bookmark,omitempty"`
}

// Condition is a tagged union: exactly one of Scalar or List is set.
type Condition struct {
	Scalar *ScalarCondition `json:"scalar,omitempty"`
	List   *ListCondition   `json:"list,omitempty"`
}

type ScalarCondition struct {
	Expression string         `json:"expression"`
	Results    []ScalarResult `json:"results"`
}

// ScalarResult is one expected outcome: either an operator comparison or a
// variance (tolerance window) test against Value.
type ScalarResult struct {
	Value     string `json:"value"`
	Operator  string `json:"operator,omitempty"`
	Variation string `json:"variation,omitempty"`
}

type ListCondition struct {
	Field     string   `json:"field"`
	Values    []string `json:"values"`
	Operation string   `json:"operation"` // "present" or "missing"
}

const (
	ListPresent = "present"
	ListMissing = "missing"
)
