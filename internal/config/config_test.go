package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestParseHTXListFallsBackToShippedUnits(t *testing.T) {
	t.Setenv("HTX_LIST", "")

	cfg := Load()
	if len(cfg.HTXList) != 5 {
		t.Fatalf("expected 5 default HTX units, got %d", len(cfg.HTXList))
	}
	if cfg.HTXList[0] != "MINH VY" {
		t.Fatalf("unexpected first HTX unit: %q", cfg.HTXList[0])
	}
}

func TestParseHTXListSplitsAndTrims(t *testing.T) {
	t.Setenv("HTX_LIST", " ALPHA , BETA ,, GAMMA ")

	cfg := Load()
	want := []string{"ALPHA", "BETA", "GAMMA"}
	if len(cfg.HTXList) != len(want) {
		t.Fatalf("expected %d units, got %d", len(want), len(cfg.HTXList))
	}
	for i, name := range want {
		if cfg.HTXList[i] != name {
			t.Fatalf("unit %d: expected %q, got %q", i, name, cfg.HTXList[i])
		}
	}
}
