package config

import (
	"errors"
	"testing"
)

func validConfig() *Config {
	return &Config{
		General: GeneralConfig{Port: 4242, URI: "https://gw.example.com"},
		Environments: []Environment{
			{Name: "prod", Host: "backend.example.com"},
		},
		Notifications: []Notification{
			{
				ID:          "n-1",
				Kind:        KindRepo,
				Environment: "prod",
				ObjectType:  "App",
				ChangeType:  "update",
				Callbacks:   []Callback{{Type: "echo"}},
			},
			{
				ID:          "a-1",
				Kind:        KindDataAlert,
				Environment: "prod",
				Filter:      "name eq 'Sales'",
				Callbacks:   []Callback{{Type: "http"}},
				DataConditions: []DataAlertCondition{
					{
						Selections: []Selection{{Field: "Year", Values: []string{"2026"}}},
						Conditions: []Condition{
							{Scalar: &ScalarCondition{
								Expression: "Sum(Sales)",
								Results:    []ScalarResult{{Value: "100", Operator: ">"}},
							}},
						},
					},
				},
			},
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	t.Parallel()
	if err := Validate(validConfig()); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		is     error
	}{
		{
			name:   "bad port",
			mutate: func(c *Config) { c.General.Port = 0 },
		},
		{
			name:   "missing uri",
			mutate: func(c *Config) { c.General.URI = " " },
		},
		{
			name: "duplicate environment",
			mutate: func(c *Config) {
				c.Environments = append(c.Environments, Environment{Name: "prod", Host: "other"})
			},
		},
		{
			name:   "duplicate notification id",
			mutate: func(c *Config) { c.Notifications[1].ID = "n-1" },
			is:     ErrDuplicateID,
		},
		{
			name:   "unknown environment reference",
			mutate: func(c *Config) { c.Notifications[0].Environment = "staging" },
			is:     ErrUnknownEnvironment,
		},
		{
			name:   "unknown kind",
			mutate: func(c *Config) { c.Notifications[0].Kind = "push" },
		},
		{
			name:   "repo without object type",
			mutate: func(c *Config) { c.Notifications[0].ObjectType = "" },
		},
		{
			name:   "repo with unknown change type",
			mutate: func(c *Config) { c.Notifications[0].ChangeType = "mutate" },
		},
		{
			name:   "no callbacks",
			mutate: func(c *Config) { c.Notifications[0].Callbacks = nil },
		},
		{
			name:   "callback without type",
			mutate: func(c *Config) { c.Notifications[0].Callbacks = []Callback{{}} },
		},
		{
			name:   "alert without filter",
			mutate: func(c *Config) { c.Notifications[1].Filter = "" },
		},
		{
			name:   "alert without conditions",
			mutate: func(c *Config) { c.Notifications[1].DataConditions = nil },
		},
		{
			name: "selection with both field and bookmark",
			mutate: func(c *Config) {
				c.Notifications[1].DataConditions[0].Selections[0].Bookmark = "bm-1"
			},
		},
		{
			name: "condition with neither scalar nor list",
			mutate: func(c *Config) {
				c.Notifications[1].DataConditions[0].Conditions[0] = Condition{}
			},
		},
		{
			name: "result with operator and variation",
			mutate: func(c *Config) {
				c.Notifications[1].DataConditions[0].Conditions[0].Scalar.Results[0].Variation = "+5"
			},
		},
		{
			name: "result with unknown operator",
			mutate: func(c *Config) {
				c.Notifications[1].DataConditions[0].Conditions[0].Scalar.Results[0].Operator = "~"
			},
		},
		{
			name: "list with unknown operation",
			mutate: func(c *Config) {
				c.Notifications[1].DataConditions[0].Conditions[0] = Condition{
					List: &ListCondition{Field: "Region", Values: []string{"EU"}, Operation: "absent"},
				}
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Fatalf("err = %v, want %v", err, tt.is)
			}
		})
	}
}

func TestChangeTypeCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		code int
		ok   bool
	}{
		{"undefined", 0, true},
		{"add", 1, true},
		{"Update", 2, true},
		{" delete ", 3, true},
		{"mutate", 0, false},
	}
	for _, tt := range tests {
		code, ok := ChangeTypeCode(tt.in)
		if code != tt.code || ok != tt.ok {
			t.Errorf("ChangeTypeCode(%q) = %d,%v want %d,%v", tt.in, code, ok, tt.code, tt.ok)
		}
	}
}
