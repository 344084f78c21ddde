package beacon

import "strings"

// SensorClass partitions sensor identifiers by their optional prefix.
type SensorClass int

const (
	// SensorInput is produced externally and read at cycle start.
	SensorInput SensorClass = iota
	// SensorOutput is produced by a rule's set action.
	SensorOutput
	// SensorBuffer addresses windowed history kept by buffer actions.
	SensorBuffer
)

func (c SensorClass) String() string {
	switch c {
	case SensorOutput:
		return "output"
	case SensorBuffer:
		return "buffer"
	default:
		return "input"
	}
}

// ClassifySensor returns the class of a sensor identifier. Unprefixed
// identifiers are inputs.
func ClassifySensor(id string) SensorClass {
	switch {
	case strings.HasPrefix(id, "output:"):
		return SensorOutput
	case strings.HasPrefix(id, "buffer:"):
		return SensorBuffer
	default:
		return SensorInput
	}
}

// CanonicalSensor normalizes an identifier to its prefixed form: a bare
// name becomes input:name; already-prefixed names pass through.
func CanonicalSensor(id string) string {
	if strings.HasPrefix(id, "input:") || strings.HasPrefix(id, "output:") || strings.HasPrefix(id, "buffer:") {
		return id
	}
	return "input:" + id
}

// SensorBase strips the class prefix from an identifier.
func SensorBase(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return id
}
