package main

import (
	"strings"
	"testing"

	"tindahan/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"empty secret", config.Config{ManagerPIN: "739154"}, "AUTH_SECRET"},
		{"short secret", config.Config{AuthSecret: "short", ManagerPIN: "739154"}, "AUTH_SECRET"},
		{"missing pin", config.Config{AuthSecret: strings.Repeat("x", 32)}, "MANAGER_PIN"},
		{"common pin", config.Config{AuthSecret: strings.Repeat("x", 32), ManagerPIN: "123456"}, "too weak"},
		{"all same pin", config.Config{AuthSecret: strings.Repeat("x", 32), ManagerPIN: "777777"}, "too weak"},
		{"descending pin", config.Config{AuthSecret: strings.Repeat("x", 32), ManagerPIN: "987654"}, "too weak"},
	}
	for _, c := range cases {
		err := validateSecurityConfig(c.cfg)
		if err == nil {
			t.Fatalf("%s: expected error", c.name)
		}
		if !strings.Contains(err.Error(), c.want) {
			t.Fatalf("%s: error %q does not mention %q", c.name, err, c.want)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret: strings.Repeat("x", 32),
		ManagerPIN: "739154",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
