package domain

// Priority levels for module installation order
// Lower number = installed earlier
const (
	PriorityDependency = 1 // Bundled runtime installers (installed first)
	PriorityEssential  = 2 // Modules the app cannot start without
	PriorityOptional   = 3 // Extra content such as videos or language packs
	PriorityDefault    = PriorityEssential
)

// PriorityName returns a human-readable name for the priority level
func PriorityName(priority int) string {
	switch priority {
	case PriorityDependency:
		return "dependency"
	case PriorityEssential:
		return "essential"
	case PriorityOptional:
		return "optional"
	default:
		return "unknown"
	}
}

// ParsePriority converts a manifest priority name to its level.
// Unknown names map to PriorityDefault.
func ParsePriority(name string) int {
	switch name {
	case "dependency":
		return PriorityDependency
	case "essential":
		return PriorityEssential
	case "optional":
		return PriorityOptional
	default:
		return PriorityDefault
	}
}
