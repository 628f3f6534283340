package logging

import (
	"testing"

	"github.com/charmbracelet/log"
)

func TestNewAppliesLevel(t *testing.T) {
	logger := New("debug", "development")
	if logger.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %v", logger.GetLevel())
	}
}

func TestNewFallsBackToInfo(t *testing.T) {
	logger := New("loud", "production")
	if logger.GetLevel() != log.InfoLevel {
		t.Fatalf("expected info level, got %v", logger.GetLevel())
	}
}
