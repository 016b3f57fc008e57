package config

import "testing"

func TestDecodeStrictAppliesDefaults(t *testing.T) {
	f, err := DecodeStrict([]byte(`version: 1`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.GatewayPort != 8089 {
		t.Fatalf("gatewayPort = %d, want default 8089", f.GatewayPort)
	}
	if f.ModelRoutingMode != "ladder" {
		t.Fatalf("modelRoutingMode = %q, want ladder", f.ModelRoutingMode)
	}
}

func TestDecodeStrictRejectsUnknownFields(t *testing.T) {
	_, err := DecodeStrict([]byte("version: 1\nbogus_field: true\n"))
	if err == nil {
		t.Fatalf("expected strict decode to reject unknown field")
	}
}

func TestDecodeStrictRejectsInvalidRoutingMode(t *testing.T) {
	_, err := DecodeStrict([]byte("model_routing_mode: bogus\n"))
	if err == nil {
		t.Fatalf("expected validation error for invalid routing mode")
	}
}

func TestSchemaDocumentCoversRegistry(t *testing.T) {
	doc := SchemaDocument()
	if len(doc) != len(Registry) {
		t.Fatalf("schema document has %d entries, want %d", len(doc), len(Registry))
	}
	if doc["GATEWAY_PORT"] == nil {
		t.Fatalf("expected GATEWAY_PORT schema entry")
	}
}
