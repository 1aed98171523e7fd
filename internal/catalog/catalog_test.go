package catalog

import (
	"testing"

	"github.com/mealbridge/notification/internal/domain"
)

func TestLookup_AllKnownTypesRegistered(t *testing.T) {
	for _, typ := range domain.KnownTypes {
		d, ok := Lookup(typ)
		if !ok {
			t.Fatalf("no catalog definition for %s", typ)
		}
		if d.DefaultPriority < domain.PriorityMin || d.DefaultPriority > domain.PriorityMax {
			t.Errorf("%s default priority %d out of range", typ, d.DefaultPriority)
		}
		if d.DigestTemplate == "" || d.TitleTemplate == "" {
			t.Errorf("%s has empty templates", typ)
		}
	}
}

func TestResolve_UnknownTypeFallsBack(t *testing.T) {
	d := Resolve(domain.NotificationType("totally_unknown"))
	if d.DefaultPriority != domain.DefaultPriority {
		t.Errorf("fallback priority = %d, want %d", d.DefaultPriority, domain.DefaultPriority)
	}
	if d.Icon == "" || d.TargetScreen == "" {
		t.Error("fallback definition must be complete")
	}
}

func TestDigestTitle(t *testing.T) {
	got := DigestTitle(domain.TypeNewMessage, 4)
	want := "You have 4 new messages"
	if got != want {
		t.Errorf("DigestTitle = %q, want %q", got, want)
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	register(Definition{Type: domain.TypeNewMessage})
}
