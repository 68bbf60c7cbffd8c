package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownEnvironment = errors.New("unknown environment")
	ErrDuplicateID        = errors.New("duplicate notification id")
)

// Valid backend change types, in wire order (undefined=0, add=1, update=2, delete=3).
var changeTypeCodes = map[string]int{
	"undefined": 0,
	"add":       1,
	"update":    2,
	"delete":    3,
}

// ChangeTypeCode maps a configured change type to the backend's numeric code.
func ChangeTypeCode(changeType string) (int, bool) {
	c, ok := changeTypeCodes[strings.ToLower(strings.TrimSpace(changeType))]
	return c, ok
}

var comparisonOps = map[string]bool{
	">": true, "<": true, ">=": true, "<=": true,
	"==": true, "=": true, "!=": true, "<>": true,
}

// Validate performs the semantic checks the strict decoder cannot express.
// A validation failure is a configuration error: at load it is fatal, at
// reload it rejects the new config and keeps the previous registries active.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.General.Port <= 0 || cfg.General.Port > 65535 {
		return fmt.Errorf("general.port: invalid port %d", cfg.General.Port)
	}
	if strings.TrimSpace(cfg.General.URI) == "" {
		return errors.New("general.uri: required")
	}

	envs := make(map[string]bool, len(cfg.Environments))
	for i, env := range cfg.Environments {
		if strings.TrimSpace(env.Name) == "" {
			return fmt.Errorf("environments[%d].name: required", i)
		}
		if strings.TrimSpace(env.Host) == "" {
			return fmt.Errorf("environments[%d].host: required", i)
		}
		if envs[env.Name] {
			return fmt.Errorf("environments[%d].name: duplicate %q", i, env.Name)
		}
		envs[env.Name] = true
	}

	seen := make(map[string]bool, len(cfg.Notifications))
	for i, n := range cfg.Notifications {
		path := fmt.Sprintf("notifications[%d]", i)
		if strings.TrimSpace(n.ID) == "" {
			return fmt.Errorf("%s.id: required", path)
		}
		if seen[n.ID] {
			return fmt.Errorf("%s.id: %w: %q", path, ErrDuplicateID, n.ID)
		}
		seen[n.ID] = true

		if !envs[n.Environment] {
			return fmt.Errorf("%s.environment: %w: %q", path, ErrUnknownEnvironment, n.Environment)
		}

		switch n.Kind {
		case KindRepo:
			if strings.TrimSpace(n.ObjectType) == "" {
				return fmt.Errorf("%s.object_type: required for repo notifications", path)
			}
			if _, ok := ChangeTypeCode(n.ChangeType); !ok {
				return fmt.Errorf("%s.change_type: unknown %q", path, n.ChangeType)
			}
		case KindDataAlert:
			if strings.TrimSpace(n.Filter) == "" {
				return fmt.Errorf("%s.filter: required for data alerts", path)
			}
			if len(n.DataConditions) == 0 {
				return fmt.Errorf("%s.data_conditions: at least one required", path)
			}
			for j, dc := range n.DataConditions {
				if err := validateDataCondition(dc); err != nil {
					return fmt.Errorf("%s.data_conditions[%d]: %w", path, j, err)
				}
			}
		default:
			return fmt.Errorf("%s.kind: unknown %q", path, n.Kind)
		}

		if len(n.Callbacks) == 0 {
			return fmt.Errorf("%s.callbacks: at least one required", path)
		}
		for j, cb := range n.Callbacks {
			if strings.TrimSpace(cb.Type) == "" {
				return fmt.Errorf("%s.callbacks[%d].type: required", path, j)
			}
		}
	}

	return nil
}

func validateDataCondition(dc DataAlertCondition) error {
	if len(dc.Conditions) == 0 {
		return errors.New("conditions: at least one required")
	}
	for i, sel := range dc.Selections {
		hasField := strings.TrimSpace(sel.Field) != ""
		hasBookmark := strings.TrimSpace(sel.Bookmark) != ""
		if hasField == hasBookmark {
			return fmt.Errorf("selections[%d]: exactly one of field or bookmark", i)
		}
		if hasField && len(sel.Values) == 0 {
			return fmt.Errorf("selections[%d].values: required with field", i)
		}
	}
	for i, c := range dc.Conditions {
		if (c.Scalar == nil) == (c.List == nil) {
			return fmt.Errorf("conditions[%d]: exactly one of scalar or list", i)
		}
		if c.Scalar != nil {
			if strings.TrimSpace(c.Scalar.Expression) == "" {
				return fmt.Errorf("conditions[%d].scalar.expression: required", i)
			}
			if len(c.Scalar.Results) == 0 {
				return fmt.Errorf("conditions[%d].scalar.results: at least one required", i)
			}
			for j, r := range c.Scalar.Results {
				hasOp := strings.TrimSpace(r.Operator) != ""
				hasVar := strings.TrimSpace(r.Variation) != ""
				if hasOp == hasVar {
					return fmt.Errorf("conditions[%d].scalar.results[%d]: exactly one of operator or variation", i, j)
				}
				if hasOp && !comparisonOps[strings.TrimSpace(r.Operator)] {
					return fmt.Errorf("conditions[%d].scalar.results[%d].operator: unknown %q", i, j, r.Operator)
				}
			}
		}
		if c.List != nil {
			if strings.TrimSpace(c.List.Field) == "" {
				return fmt.Errorf("conditions[%d].list.field: required", i)
			}
			if len(c.List.Values) == 0 {
				return fmt.Errorf("conditions[%d].list.values: at least one required", i)
			}
			op := strings.ToLower(strings.TrimSpace(c.List.Operation))
			if op != ListPresent && op != ListMissing {
				return fmt.Errorf("conditions[%d].list.operation: unknown %q", i, c.List.Operation)
			}
		}
	}
	return nil
}
