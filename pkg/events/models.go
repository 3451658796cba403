package events

import "time"

// Event is a decoded notification. Domain events, control messages and unknown payloads all satisfy it.
type Event interface {
	Tag() Tag
	EventHeader() Header
}

// Header is the block shared by every domain event.
type Header struct {
	EventID         string    `xml:"EventId" json:"EventId"`
	EventTime       time.Time `xml:"EventTime" json:"EventTime"`
	LogicalDeviceID string    `xml:"LogicalDeviceId,omitempty" json:"LogicalDeviceId,omitempty"`
	Device          string    `xml:"Device,omitempty" json:"Device,omitempty"`
	ReceivedTime    time.Time `xml:"ReceivedTime" json:"ReceivedTime"`
}

// AggregateEvent reports the EPCs added and removed during a pass.
type AggregateEvent struct {
	Header      Header   `xml:"Header" json:"Header"`
	DeviceID    string   `xml:"DeviceId" json:"DeviceId"`
	AddedEPCs   []string `xml:"AddedEpcs>Epc" json:"AddedEpcs"`
	RemovedEPCs []string `xml:"RemovedEpcs>Epc" json:"RemovedEpcs"`
	PassID      string   `xml:"PassId" json:"PassId"`
}

type CommandCompletionEvent struct {
	Header      Header `xml:"Header" json:"Header"`
	CommandID   string `xml:"CommandId" json:"CommandId"`
	CommandName string `xml:"CommandName" json:"CommandName"`
	Status      string `xml:"Status" json:"Status"`
	Response    string `xml:"Response,omitempty" json:"Response,omitempty"`
}

type CommandQueuedEvent struct {
	Header      Header `xml:"Header" json:"Header"`
	CommandID   string `xml:"CommandId" json:"CommandId"`
	CommandName string `xml:"CommandName" json:"CommandName"`
}

type DeviceFailureEvent struct {
	Header      Header `xml:"Header" json:"Header"`
	DeviceID    string `xml:"DeviceId" json:"DeviceId"`
	FailureCode string `xml:"FailureCode,omitempty" json:"FailureCode,omitempty"`
	Description string `xml:"Description,omitempty" json:"Description,omitempty"`
}

type DeviceRestoreEvent struct {
	Header      Header `xml:"Header" json:"Header"`
	DeviceID    string `xml:"DeviceId" json:"DeviceId"`
	Description string `xml:"Description,omitempty" json:"Description,omitempty"`
}

// HeartbeatEvent carries only the device and the time it checked in.
type HeartbeatEvent struct {
	Header    Header    `xml:"Header" json:"Header"`
	DeviceID  string    `xml:"DeviceId" json:"DeviceId"`
	Timestamp time.Time `xml:"Timestamp" json:"Timestamp"`
}

type LogEntry struct {
	Level   string    `xml:"Level" json:"Level"`
	Message string    `xml:"Message" json:"Message"`
	Type    string    `xml:"Type" json:"Type"`
	LogTime time.Time `xml:"LogTime" json:"LogTime"`
}

type LogEntryEvent struct {
	Header  Header     `xml:"Header" json:"Header"`
	Entries []LogEntry `xml:"LogEntries>LogEntry" json:"LogEntries"`
}

type LogicalDeviceAddedEvent struct {
	Header            Header `xml:"Header" json:"Header"`
	LogicalDeviceName string `xml:"LogicalDeviceName" json:"LogicalDeviceName"`
	DeviceType        string `xml:"DeviceType,omitempty" json:"DeviceType,omitempty"`
}

type LogicalDeviceRemovedEvent struct {
	Header            Header `xml:"Header" json:"Header"`
	LogicalDeviceName string `xml:"LogicalDeviceName" json:"LogicalDeviceName"`
}

// ObjectEvent is an observation of a set of EPCs at a read point.
type ObjectEvent struct {
	Header      Header   `xml:"Header" json:"Header"`
	Action      string   `xml:"Action" json:"Action"`
	EPCs        []string `xml:"EpcList>Epc" json:"EpcList"`
	BizStep     string   `xml:"BizStep,omitempty" json:"BizStep,omitempty"`
	Disposition string   `xml:"Disposition,omitempty" json:"Disposition,omitempty"`
	ReadPoint   string   `xml:"ReadPoint,omitempty" json:"ReadPoint,omitempty"`
}

type SensorReading struct {
	SensorID    string    `xml:"SensorId" json:"SensorId"`
	Value       float64   `xml:"Value" json:"Value"`
	Unit        string    `xml:"Unit,omitempty" json:"Unit,omitempty"`
	ReadingTime time.Time `xml:"ReadingTime" json:"ReadingTime"`
}

type SensorReadingEvent struct {
	Header   Header          `xml:"Header" json:"Header"`
	Readings []SensorReading `xml:"Readings>Reading" json:"Readings"`
}

// SubscriptionConfirmation is the control message sent when a queue is subscribed to the platform topic.
type SubscriptionConfirmation struct {
	Notification Notification
}

// UnknownEvent holds a notification whose subject matched no known event.
type UnknownEvent struct {
	Subject string
	Payload string
}

func (e *AggregateEvent) Tag() Tag            { return TagAggregate }
func (e *CommandCompletionEvent) Tag() Tag    { return TagCommandCompletion }
func (e *CommandQueuedEvent) Tag() Tag        { return TagCommandQueued }
func (e *DeviceFailureEvent) Tag() Tag        { return TagDeviceFailure }
func (e *DeviceRestoreEvent) Tag() Tag        { return TagDeviceRestore }
func (e *HeartbeatEvent) Tag() Tag            { return TagHeartbeat }
func (e *LogEntryEvent) Tag() Tag             { return TagLogEntry }
func (e *LogicalDeviceAddedEvent) Tag() Tag   { return TagLogicalDeviceAdded }
func (e *LogicalDeviceRemovedEvent) Tag() Tag { return TagLogicalDeviceRemoved }
func (e *ObjectEvent) Tag() Tag               { return TagObject }
func (e *SensorReadingEvent) Tag() Tag        { return TagSensorReading }
func (e *SubscriptionConfirmation) Tag() Tag  { return TagSubscriptionConfirmation }
func (e *UnknownEvent) Tag() Tag              { return TagUnknown }

func (e *AggregateEvent) EventHeader() Header            { return e.Header }
func (e *CommandCompletionEvent) EventHeader() Header    { return e.Header }
func (e *CommandQueuedEvent) EventHeader() Header        { return e.Header }
func (e *DeviceFailureEvent) EventHeader() Header        { return e.Header }
func (e *DeviceRestoreEvent) EventHeader() Header        { return e.Header }
func (e *HeartbeatEvent) EventHeader() Header            { return e.Header }
func (e *LogEntryEvent) EventHeader() Header             { return e.Header }
func (e *LogicalDeviceAddedEvent) EventHeader() Header   { return e.Header }
func (e *LogicalDeviceRemovedEvent) EventHeader() Header { return e.Header }
func (e *ObjectEvent) EventHeader() Header               { return e.Header }
func (e *SensorReadingEvent) EventHeader() Header        { return e.Header }
func (e *SubscriptionConfirmation) EventHeader() Header  { return Header{EventID: e.Notification.MessageID} }
func (e *UnknownEvent) EventHeader() Header              { return Header{} }
