// Package catalog is the static registry of notification kinds: per-type
// title templates, icon, target screen, and default priority. Resolved once
// at startup; dispatch behavior is a table lookup, not a conditional chain.
package catalog

import (
	"fmt"

	"github.com/mealbridge/notification/internal/domain"
)

// Definition describes how one notification type renders and schedules.
type Definition struct {
	Type            domain.NotificationType
	TitleTemplate   string // fmt template over the sender/subject name
	DigestTemplate  string // fmt template over the member count
	Icon            string
	TargetScreen    string
	DefaultPriority int
}

var definitions = map[domain.NotificationType]Definition{}

// register adds a definition to the table. Panics on duplicates to catch
// wiring mistakes at startup.
func register(d Definition) {
	if _, exists := definitions[d.Type]; exists {
		panic("catalog: duplicate definition for type: " + string(d.Type))
	}
	definitions[d.Type] = d
}

// Lookup returns the definition for t and whether one is registered.
func Lookup(t domain.NotificationType) (Definition, bool) {
	d, ok := definitions[t]
	return d, ok
}

// Resolve returns the definition for t, falling back to a neutral default for
// unknown types so admission never rejects on a missing definition.
func Resolve(t domain.NotificationType) Definition {
	if d, ok := definitions[t]; ok {
		return d
	}
	return Definition{
		Type:            t,
		TitleTemplate:   "%s",
		DigestTemplate:  "You have %d new notifications",
		Icon:            "bell",
		TargetScreen:    "home",
		DefaultPriority: domain.DefaultPriority,
	}
}

// DigestTitle renders the consolidated-digest title for a group of count
// notifications of type t.
func DigestTitle(t domain.NotificationType, count int) string {
	return fmt.Sprintf(Resolve(t).DigestTemplate, count)
}

// DigestBody is the generic body used for every consolidated digest.
const DigestBody = "Tap to view all"
