package logging

import (
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warn", WARN},
		{"error", ERROR},
		{"fatal", FATAL},
		{"bogus", INFO},
		{"", INFO},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestGetLogger_DefaultsToInfo(t *testing.T) {
	logger := GetLogger("test")
	if logger == nil {
		t.Fatal("expected logger, got nil")
	}
	if logger.level != INFO {
		t.Errorf("default level = %v, want INFO", logger.level)
	}
	if logger.shouldLog(DEBUG) {
		t.Error("INFO logger must not emit DEBUG")
	}
	if !logger.shouldLog(ERROR) {
		t.Error("every logger must emit ERROR")
	}
}

func TestWithField_Immutability(t *testing.T) {
	base := GetLogger("test")
	child := base.WithField("pod", "web-0")

	if len(base.fields) != 0 {
		t.Errorf("parent logger mutated: %v", base.fields)
	}
	if child.fields["pod"] != "web-0" {
		t.Errorf("child missing field: %v", child.fields)
	}

	grandchild := child.WithField("rule", "OOMKilled")
	if len(child.fields) != 1 {
		t.Errorf("child mutated by grandchild: %v", child.fields)
	}
	if len(grandchild.fields) != 2 {
		t.Errorf("grandchild fields wrong: %v", grandchild.fields)
	}
}

func TestWithFields_Multiple(t *testing.T) {
	logger := GetLogger("test").WithFields(
		Field("a", 1),
		Field("b", "two"),
	)
	if logger.fields["a"] != 1 || logger.fields["b"] != "two" {
		t.Errorf("fields not applied: %v", logger.fields)
	}
}

func TestCloneFields_NilInput(t *testing.T) {
	result := cloneFields(nil)
	if result == nil {
		t.Error("expected non-nil map, got nil")
	}
	if len(result) != 0 {
		t.Errorf("expected empty map, got length %d", len(result))
	}
}

func TestCloneFields_Copies(t *testing.T) {
	src := map[string]interface{}{"k": "v"}
	dst := cloneFields(src)
	dst["k"] = "changed"
	if src["k"] != "v" {
		t.Error("clone shares storage with source")
	}
}
