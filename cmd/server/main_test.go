package main

import (
	"testing"

	"htxsale/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakSecret(t *testing.T) {
	cfg := config.Config{DatabaseURL: "postgres://localhost/htxsale", AuthSecret: "short"}
	if err := validateSecurityConfig(cfg); err == nil {
		t.Fatal("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongSecret(t *testing.T) {
	cfg := config.Config{DatabaseURL: "postgres://localhost/htxsale", AuthSecret: "0123456789abcdef0123456789abcdef"}
	if err := validateSecurityConfig(cfg); err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigAllowsDevMode(t *testing.T) {
	if err := validateSecurityConfig(config.Config{}); err != nil {
		t.Fatalf("dev mode without a database should not require a secret, got %v", err)
	}
}
