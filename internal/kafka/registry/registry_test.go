package registry_test

import (
	"encoding/json"
	"testing"

	"github.com/mealbridge/notification/internal/admission"
	"github.com/mealbridge/notification/internal/domain"
	"github.com/mealbridge/notification/internal/kafka/registry"
)

func makeJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func TestRegisterAndDispatch(t *testing.T) {
	called := false
	registry.Register("test-topic", "TEST_EVENT", func(data []byte) *admission.EnqueueInput {
		called = true
		return &admission.EnqueueInput{
			RecipientID: "alice",
			Type:        domain.TypeSystem,
			Title:       "hello",
		}
	})

	input := registry.Dispatch("test-topic", makeJSON(map[string]string{"eventType": "TEST_EVENT"}))
	if !called {
		t.Fatal("handler was not called")
	}
	if input == nil || input.RecipientID != "alice" {
		t.Fatalf("unexpected input: %+v", input)
	}
}

func TestDispatchUnknownEventType(t *testing.T) {
	input := registry.Dispatch("test-topic", makeJSON(map[string]string{"eventType": "NOPE"}))
	if input != nil {
		t.Fatalf("expected nil for unregistered event type, got %+v", input)
	}
}

func TestDispatchMalformedPayload(t *testing.T) {
	input := registry.Dispatch("test-topic", []byte("{not json"))
	if input != nil {
		t.Fatalf("expected nil for malformed payload, got %+v", input)
	}
}

func TestDispatchDirect(t *testing.T) {
	registry.Register("direct-topic", "", func(data []byte) *admission.EnqueueInput {
		return &admission.EnqueueInput{RecipientID: "bob", Type: domain.TypeSystem, Title: "cmd"}
	})

	input := registry.DispatchDirect("direct-topic", []byte(`{}`))
	if input == nil || input.RecipientID != "bob" {
		t.Fatalf("unexpected input: %+v", input)
	}

	if got := registry.DispatchDirect("unknown-topic", []byte(`{}`)); got != nil {
		t.Fatalf("expected nil for unknown direct topic, got %+v", got)
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	registry.Register("dup-topic", "EVT", func([]byte) *admission.EnqueueInput { return nil })
	registry.Register("dup-topic", "EVT", func([]byte) *admission.EnqueueInput { return nil })
}
