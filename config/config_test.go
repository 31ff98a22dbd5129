package config

import (
	"testing"

	"github.com/qingchen1984/peafowl/l7"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	cfg := New(WithPartitions(4), WithStrict(true), WithAccuracy("http", l7.HIGH))
	if cfg.Partitions != 4 {
		t.Fatalf("expected 4 partitions, got %d", cfg.Partitions)
	}
	if !cfg.Strict {
		t.Fatalf("expected strict mode enabled")
	}
	if cfg.AccuracyFor("http") != l7.HIGH {
		t.Fatalf("expected HIGH accuracy for http")
	}
	if cfg.AccuracyFor("dns") != l7.LOW {
		t.Fatalf("expected LOW accuracy for unconfigured protocol")
	}
}

func TestValidateRejectsZeroPartitions(t *testing.T) {
	cfg := New(WithPartitions(0))
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for zero partitions")
	}
}
