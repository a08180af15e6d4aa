package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/tenantrun/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"ExecutionID", id.NewExecutionID, "exec_"},
		{"TenantExecutionID", id.NewTenantExecutionID, "texec_"},
		{"HolderID", id.NewHolderID, "hold_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"ExecutionID", id.NewExecutionID, id.ParseExecutionID},
		{"TenantExecutionID", id.NewTenantExecutionID, id.ParseTenantExecutionID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	if _, err := id.ParseExecutionID(id.NewTenantExecutionID().String()); err == nil {
		t.Error("ParseExecutionID accepted a texec_ ID")
	}
	if _, err := id.ParseTenantExecutionID(id.NewHolderID().String()); err == nil {
		t.Error("ParseTenantExecutionID accepted a hold_ ID")
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewExecutionID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if scanErr := scanned.Scan(val); scanErr != nil {
		t.Fatalf("Scan failed: %v", scanErr)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}

	var scanned2 id.ID
	if err := scanned2.Scan([]byte{}); err != nil {
		t.Fatalf("Scan(empty) failed: %v", err)
	}
	if !scanned2.IsNil() {
		t.Error("expected nil after scan of empty bytes")
	}
}

func TestLess(t *testing.T) {
	a := id.MustParse("exec_01h2xcejqtf2nbrexx3vqjhp41")
	b := id.MustParse("exec_01h2xcejqtf2nbrexx3vqjhp42")
	if !a.Less(b) || b.Less(a) {
		t.Errorf("expected %s < %s", a, b)
	}
}
