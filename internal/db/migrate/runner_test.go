package migrate

import (
	"errors"
	"testing"
)

func TestRun_EmptyDSN(t *testing.T) {
	if err := Run("", "up"); err == nil {
		t.Fatal("Run with empty DSN should return error")
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, dir := range []string{"", "sideways", "UP"} {
		if err := Run("postgres://localhost/test", dir); err == nil {
			t.Errorf("Run with direction %q should return error", dir)
		}
	}
}

func TestRun_UnreachableDatabase(t *testing.T) {
	err := Run("postgres://invalid-host-that-does-not-exist:5432/test", "up")
	if err == nil {
		t.Fatal("Run should fail when the database is unreachable")
	}
	if errors.Is(err, ErrNoChange) {
		t.Error("connection failure must not surface as ErrNoChange")
	}
}
