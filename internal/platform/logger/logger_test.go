package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew(t *testing.T) {
	log := New("debug", "json")
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected JSON formatter, got %T", log.Formatter)
	}

	log = New("chatty", "text")
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("unknown level should fall back to info, got %s", log.GetLevel())
	}
}
