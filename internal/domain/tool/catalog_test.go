package tool

import (
	"testing"

	"github.com/relaygate/relaygate/internal/domain/message"
)

func TestCatalog_CopyIsIndependent(t *testing.T) {
	a := Catalog()
	a[0].Name = "mutated"
	b := Catalog()
	if b[0].Name == "mutated" {
		t.Fatal("Catalog must return a copy")
	}
}

func TestCatalog_EverySchemaIsObject(t *testing.T) {
	for _, tl := range Catalog() {
		if tl.InputSchema["type"] != "object" {
			t.Errorf("%s: schema type = %v", tl.Name, tl.InputSchema["type"])
		}
		if _, ok := tl.InputSchema["properties"]; !ok {
			t.Errorf("%s: schema has no properties", tl.Name)
		}
	}
}

func TestShouldInject(t *testing.T) {
	withTools := []message.Tool{{Name: "Custom"}}

	tests := []struct {
		name           string
		tools          []message.Tool
		isLocal        bool
		localInjection bool
		want           bool
	}{
		{"cloud, no tools", nil, false, false, true},
		{"cloud, caller tools", withTools, false, false, false},
		{"local, toggle off", nil, true, false, false},
		{"local, toggle on", nil, true, true, true},
		{"local, caller tools, toggle on", withTools, true, true, false},
	}
	for _, tt := range tests {
		if got := ShouldInject(tt.tools, tt.isLocal, tt.localInjection); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}
