package events

import "strings"

// Tag identifies which typed event a payload represents.
type Tag int

const (
	TagUnknown Tag = iota
	TagAggregate
	TagCommandCompletion
	TagCommandQueued
	TagDeviceFailure
	TagDeviceRestore
	TagHeartbeat
	TagLogEntry
	TagLogicalDeviceAdded
	TagLogicalDeviceRemoved
	TagObject
	TagSensorReading
	TagSubscriptionConfirmation
)

// SubscriptionConfirmationSubject is the subject the pub/sub layer uses for
// subscription confirmations. It routes to the control path even though it
// is not an event name.
const SubscriptionConfirmationSubject = "aws notification - subscription confirmation"

var tagNames = map[Tag]string{
	TagUnknown:                  "Unknown",
	TagAggregate:                "AggregateEvent",
	TagCommandCompletion:        "CommandCompletionEvent",
	TagCommandQueued:            "CommandQueuedEvent",
	TagDeviceFailure:            "DeviceFailureEvent",
	TagDeviceRestore:            "DeviceRestoreEvent",
	TagHeartbeat:                "HeartbeatEvent",
	TagLogEntry:                 "LogEntryEvent",
	TagLogicalDeviceAdded:       "LogicalDeviceAddedEvent",
	TagLogicalDeviceRemoved:     "LogicalDeviceRemovedEvent",
	TagObject:                   "ObjectEvent",
	TagSensorReading:            "SensorReadingEvent",
	TagSubscriptionConfirmation: "SubscriptionConfirmation",
}

// Lower-cased subject -> tag
var subjectTags = func() map[string]Tag {
	m := make(map[string]Tag, len(tagNames)+1)
	for tag, name := range tagNames {
		if tag == TagUnknown {
			continue
		}
		m[strings.ToLower(name)] = tag
	}
	m[SubscriptionConfirmationSubject] = TagSubscriptionConfirmation
	return m
}()

// String returns the wire name of the tag.
func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return tagNames[TagUnknown]
}

// IsControl reports whether the tag is a pub/sub control message rather than a domain event.
func (t Tag) IsControl() bool {
	return t == TagSubscriptionConfirmation
}

// ParseTag matches a subject against the known event names, ignoring case and surrounding space.
// Subjects that match nothing yield TagUnknown.
func ParseTag(subject string) Tag {
	normalized := strings.ToLower(strings.TrimSpace(subject))
	if tag, ok := subjectTags[normalized]; ok {
		return tag
	}
	return TagUnknown
}

// Tags returns the domain event tags in declaration order.
func Tags() []Tag {
	return []Tag{
		TagAggregate,
		TagCommandCompletion,
		TagCommandQueued,
		TagDeviceFailure,
		TagDeviceRestore,
		TagHeartbeat,
		TagLogEntry,
		TagLogicalDeviceAdded,
		TagLogicalDeviceRemoved,
		TagObject,
		TagSensorReading,
	}
}
