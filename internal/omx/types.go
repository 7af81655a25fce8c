// Package omx wraps the vendor pipeline runtime: hardware stages with
// ports, buffers, tunnels and asynchronous command completion. The runtime
// itself is reached through the Core and Handle interfaces so that the
// player can be driven by real hardware bindings or by the omxsim package.
package omx

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a hardware stage.
type State int

// Stage states.
const (
	StateInvalid State = iota
	StateLoaded
	StateIdle
	StateExecuting
	StatePause
	StateWaitForResources
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StatePause:
		return "pause"
	case StateWaitForResources:
		return "wait_for_resources"
	default:
		return "invalid"
	}
}

// Command is a command sent to a stage. Completion is reported
// asynchronously with EventCmdComplete.
type Command int

// Stage commands.
const (
	CommandStateSet Command = iota
	CommandFlush
	CommandPortDisable
	CommandPortEnable
	CommandMarkBuffer
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CommandStateSet:
		return "state_set"
	case CommandFlush:
		return "flush"
	case CommandPortDisable:
		return "port_disable"
	case CommandPortEnable:
		return "port_enable"
	case CommandMarkBuffer:
		return "mark_buffer"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// AllPorts addresses every port of a stage in flush and port commands.
const AllPorts = -1

// EventType identifies an asynchronous stage event.
type EventType uint32

// Standard events.
const (
	EventCmdComplete EventType = iota
	EventError
	EventMark
	EventPortSettingsChanged
	EventBufferFlag
	EventResourcesAcquired
	EventComponentResumed
)

// Vendor extension events.
const (
	EventVendorStart EventType = 0x7F000000 + iota
	// EventRender is raised by a renderer per presented frame. Data1 and
	// Data2 carry the high and low words of the presentation timestamp.
	EventRender
	// EventVideoInfo is raised by a video decoder once stream properties
	// are known. The callback carries a *VideoInfo.
	EventVideoInfo
	// EventAudioInfo is raised by an audio decoder once stream properties
	// are known. The callback carries a *AudioInfo.
	EventAudioInfo
	// EventClockStateChanged is raised by the clock stage when its media
	// clock changes state. The callback carries a *ClockUpdate.
	EventClockStateChanged
)

// String returns the event name.
func (e EventType) String() string {
	switch e {
	case EventCmdComplete:
		return "cmd_complete"
	case EventError:
		return "error"
	case EventMark:
		return "mark"
	case EventPortSettingsChanged:
		return "port_settings_changed"
	case EventBufferFlag:
		return "buffer_flag"
	case EventResourcesAcquired:
		return "resources_acquired"
	case EventComponentResumed:
		return "component_resumed"
	case EventRender:
		return "render"
	case EventVideoInfo:
		return "video_info"
	case EventAudioInfo:
		return "audio_info"
	case EventClockStateChanged:
		return "clock_state_changed"
	default:
		return fmt.Sprintf("event(%#x)", uint32(e))
	}
}

// BufferFlags annotate a buffer submitted to or returned by a stage.
type BufferFlags uint32

// Buffer flags.
const (
	BufferFlagEOS         BufferFlags = 0x00000001
	BufferFlagStartTime   BufferFlags = 0x00000002
	BufferFlagDecodeOnly  BufferFlags = 0x00000004
	BufferFlagDataCorrupt BufferFlags = 0x00000008
	BufferFlagEndOfFrame  BufferFlags = 0x00000010
	BufferFlagSyncFrame   BufferFlags = 0x00000020
	BufferFlagExtraData   BufferFlags = 0x00000040
	BufferFlagCodecConfig BufferFlags = 0x00000080
	BufferFlagTimeUnknown BufferFlags = 0x00000100
)

// Has reports whether all bits of f2 are set.
func (f BufferFlags) Has(f2 BufferFlags) bool { return f&f2 == f2 }

// Status mirrors the vendor error enumeration.
type Status uint32

// Vendor status codes.
const (
	ErrorNone                      Status = 0
	ErrorInsufficientResources     Status = 0x80001000
	ErrorUndefined                 Status = 0x80001001
	ErrorInvalidComponentName      Status = 0x80001002
	ErrorComponentNotFound         Status = 0x80001003
	ErrorInvalidComponent          Status = 0x80001004
	ErrorBadParameter              Status = 0x80001005
	ErrorNotImplemented            Status = 0x80001006
	ErrorUnderflow                 Status = 0x80001007
	ErrorOverflow                  Status = 0x80001008
	ErrorHardware                  Status = 0x80001009
	ErrorInvalidState              Status = 0x8000100A
	ErrorStreamCorrupt             Status = 0x8000100B
	ErrorPortsNotCompatible        Status = 0x8000100C
	ErrorResourcesLost             Status = 0x8000100D
	ErrorNoMore                    Status = 0x8000100E
	ErrorNotReady                  Status = 0x80001010
	ErrorTimeout                   Status = 0x80001011
	ErrorSameState                 Status = 0x80001012
	ErrorIncorrectStateTransition  Status = 0x80001017
	ErrorIncorrectStateOperation   Status = 0x80001018
	ErrorUnsupportedSetting        Status = 0x80001019
	ErrorUnsupportedIndex          Status = 0x8000101A
	ErrorBadPortIndex              Status = 0x8000101B
	ErrorPortUnpopulated           Status = 0x8000101C
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case ErrorNone:
		return "none"
	case ErrorInsufficientResources:
		return "insufficient_resources"
	case ErrorUndefined:
		return "undefined"
	case ErrorInvalidComponentName:
		return "invalid_component_name"
	case ErrorComponentNotFound:
		return "component_not_found"
	case ErrorBadParameter:
		return "bad_parameter"
	case ErrorNotImplemented:
		return "not_implemented"
	case ErrorUnderflow:
		return "underflow"
	case ErrorHardware:
		return "hardware"
	case ErrorInvalidState:
		return "invalid_state"
	case ErrorNotReady:
		return "not_ready"
	case ErrorTimeout:
		return "timeout"
	case ErrorSameState:
		return "same_state"
	case ErrorIncorrectStateTransition:
		return "incorrect_state_transition"
	case ErrorIncorrectStateOperation:
		return "incorrect_state_operation"
	case ErrorUnsupportedSetting:
		return "unsupported_setting"
	case ErrorUnsupportedIndex:
		return "unsupported_index"
	case ErrorBadPortIndex:
		return "bad_port_index"
	case ErrorPortUnpopulated:
		return "port_unpopulated"
	default:
		return fmt.Sprintf("status(%#x)", uint32(s))
	}
}

// Error is a failed runtime call.
type Error struct {
	Op     string
	Status Status
}

func (e *Error) Error() string {
	return fmt.Sprintf("omx: %s: %s (%#x)", e.Op, e.Status, uint32(e.Status))
}

// Is matches another *Error with the same status, so callers can test
// errors.Is(err, &omx.Error{Status: omx.ErrorSameState}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Status == e.Status && (t.Op == "" || t.Op == e.Op)
}

// NewError returns an *Error for op, or nil when status is ErrorNone.
func NewError(op string, status Status) error {
	if status == ErrorNone {
		return nil
	}
	return &Error{Op: op, Status: status}
}

// StatusOf returns the vendor status carried by err. Errors that are not
// runtime errors map to ErrorUndefined.
func StatusOf(err error) Status {
	if err == nil {
		return ErrorNone
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Status
	}
	if errors.Is(err, ErrTimeout) {
		return ErrorTimeout
	}
	return ErrorUndefined
}

// Sentinel errors returned by the component wrapper.
var (
	// ErrTimeout is returned when a stage does not confirm a command within
	// the requested timeout.
	ErrTimeout = errors.New("omx: timed out waiting for stage")
	// ErrNoFreeBuffer is returned by buffer writes when every buffer on the
	// port is owned by the stage.
	ErrNoFreeBuffer = errors.New("omx: no free buffer")
	// ErrFlushInProgress is returned when a flush is requested while one is
	// still pending.
	ErrFlushInProgress = errors.New("omx: flush already in progress")
	// ErrUnsupportedCodec is returned when no stage can decode the codec.
	ErrUnsupportedCodec = errors.New("omx: unsupported codec")
	// ErrNotCreated is returned by operations on a component without a handle.
	ErrNotCreated = errors.New("omx: component not created")
	// ErrNoPort is returned when the component has no port of the requested kind.
	ErrNoPort = errors.New("omx: no such port")
)
