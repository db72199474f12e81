package catalog

import (
	"errors"
	"testing"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	registry := NewRegistry()

	perms := []Permission{
		{Codename: "view_post", Name: "Can view post"},
		{Codename: "change_post", Name: "Can change post"},
		{Codename: "delete_post", Name: "Can delete post"},
	}

	if err := registry.Register("post", perms); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := registry.Permissions("post")
	if err != nil {
		t.Fatalf("Permissions failed: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("Expected 3 permissions, got %d", len(got))
	}

	// Registration order must be preserved
	for i, p := range perms {
		if got[i].Codename != p.Codename {
			t.Errorf("Expected codename %s at position %d, got %s", p.Codename, i, got[i].Codename)
		}
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Permissions("missing")
	if err == nil {
		t.Fatal("Expected error for unknown type")
	}

	var unknownErr *UnknownTypeError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("Expected UnknownTypeError, got %T", err)
	}
	if unknownErr.ObjectType != "missing" {
		t.Errorf("Expected object type 'missing', got %s", unknownErr.ObjectType)
	}

	_, err = registry.Codenames("missing")
	if !errors.As(err, &unknownErr) {
		t.Errorf("Expected UnknownTypeError from Codenames, got %v", err)
	}
}

func TestRegistry_RejectsInvalidCatalogs(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register("post", nil); err == nil {
		t.Error("Expected error for empty catalog")
	}

	if err := registry.Register("", DefaultPermissions("post")); err == nil {
		t.Error("Expected error for empty object type")
	}

	dup := []Permission{
		{Codename: "view_post", Name: "Can view post"},
		{Codename: "view_post", Name: "Duplicate"},
	}
	if err := registry.Register("post", dup); err == nil {
		t.Error("Expected error for duplicate codenames")
	}

	if err := registry.Register("post", []Permission{{Name: "No codename"}}); err == nil {
		t.Error("Expected error for empty codename")
	}
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register("post", DefaultPermissions("post")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.Register("post", []Permission{{Codename: "view_post", Name: "Can view post"}}); err != nil {
		t.Fatalf("Re-register failed: %v", err)
	}

	codes, err := registry.Codenames("post")
	if err != nil {
		t.Fatalf("Codenames failed: %v", err)
	}
	if len(codes) != 1 || codes[0] != "view_post" {
		t.Errorf("Expected catalog to be replaced, got %v", codes)
	}

	// Type order should not duplicate on re-registration
	if types := registry.Types(); len(types) != 1 {
		t.Errorf("Expected 1 registered type, got %v", types)
	}
}

func TestRegistry_Contains(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("doc", DefaultPermissions("doc")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ok, err := registry.Contains("doc", "view_doc")
	if err != nil || !ok {
		t.Errorf("Expected view_doc to be in catalog, ok=%v err=%v", ok, err)
	}

	ok, err = registry.Contains("doc", "publish_doc")
	if err != nil || ok {
		t.Errorf("Expected publish_doc to be outside catalog, ok=%v err=%v", ok, err)
	}
}

func TestDefaultPermissions(t *testing.T) {
	perms := DefaultPermissions("article")

	expected := []string{"add_article", "change_article", "delete_article", "view_article"}
	if len(perms) != len(expected) {
		t.Fatalf("Expected %d permissions, got %d", len(expected), len(perms))
	}
	for i, code := range expected {
		if perms[i].Codename != code {
			t.Errorf("Expected codename %s, got %s", code, perms[i].Codename)
		}
		if perms[i].Name == "" {
			t.Errorf("Expected human readable name for %s", code)
		}
	}
}
