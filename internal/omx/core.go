package omx

// Core is the vendor runtime context. One Core is shared by every stage of
// a player and is injected into each Component.
type Core interface {
	// GetHandle instantiates the named stage. Asynchronous callbacks for the
	// stage are delivered on events until FreeHandle returns.
	GetHandle(name string, events chan<- Callback) (Handle, error)
	// FreeHandle releases a stage. No callbacks are delivered afterwards.
	FreeHandle(h Handle) error
	// SetupTunnel links srcPort of src to dstPort of dst at the hardware level.
	SetupTunnel(src Handle, srcPort int, dst Handle, dstPort int) error
	// ComponentName returns the runtime name for a stage kind.
	ComponentName(k Kind) string
}

// Handle is one instantiated hardware stage.
type Handle interface {
	Name() string

	// GetParameter and SetParameter exchange one of the typed parameter
	// structs in this package. The struct's Port field selects the port.
	GetParameter(p any) error
	SetParameter(p any) error
	GetConfig(p any) error
	SetConfig(p any) error

	SendCommand(cmd Command, param int) error
	GetState() (State, error)

	AllocateBuffer(port, size int) (*BufferHeader, error)
	UseBuffer(port int, data []byte) (*BufferHeader, error)
	FreeBuffer(port int, hdr *BufferHeader) error
	EmptyThisBuffer(hdr *BufferHeader) error
	FillThisBuffer(hdr *BufferHeader) error
}

// BufferHeader describes one hardware buffer.
type BufferHeader struct {
	Data      []byte // allocated storage; cap is the buffer size
	FilledLen int
	Offset    int
	Timestamp int64 // microseconds
	Flags     BufferFlags
	Port      int
	Index     int
}

// Payload returns the filled region of the buffer.
func (b *BufferHeader) Payload() []byte {
	end := b.Offset + b.FilledLen
	if end > len(b.Data) {
		end = len(b.Data)
	}
	return b.Data[b.Offset:end]
}

// CallbackKind distinguishes the three asynchronous callback paths.
type CallbackKind int

// Callback kinds.
const (
	CallbackEvent CallbackKind = iota
	CallbackEmptyBufferDone
	CallbackFillBufferDone
)

// Callback is one asynchronous notification from a stage.
type Callback struct {
	Kind   CallbackKind
	Event  EventType
	Data1  uint32
	Data2  uint32
	Buffer *BufferHeader
	// Data carries vendor event payloads such as *VideoInfo.
	Data any
}

// Domain is the media domain of a port.
type Domain int

// Port domains.
const (
	DomainAudio Domain = iota
	DomainVideo
	DomainImage
	DomainOther
)

// VideoCoding is the compression format on a video port.
type VideoCoding int

// Video codings.
const (
	VideoCodingUnused VideoCoding = iota
	VideoCodingAutoDetect
	VideoCodingMPEG2
	VideoCodingAVC
	VideoCodingHEVC
)

// AudioCoding is the encoding on an audio port.
type AudioCoding int

// Audio codings.
const (
	AudioCodingUnused AudioCoding = iota
	AudioCodingPCM
	AudioCodingMP3
	AudioCodingAAC
	AudioCodingDDP
)

// PortParam reports the contiguous port range of a stage for a domain.
type PortParam struct {
	Domain    Domain
	StartPort int
	Ports     int
}

// PortDefinition describes one port's buffer requirements and format.
type PortDefinition struct {
	Port              int
	Domain            Domain
	Input             bool
	Enabled           bool
	Populated         bool
	BufferCountActual int
	BufferCountMin    int
	BufferSize        int
	Video             VideoFormat
	Audio             AudioFormat
}

// VideoFormat is the video part of a port definition.
type VideoFormat struct {
	Width       int
	Height      int
	Stride      int
	SliceHeight int
	Framerate   uint32 // Q16
	Compression VideoCoding
	Interlaced  bool
}

// AudioFormat is the audio part of a port definition.
type AudioFormat struct {
	Encoding AudioCoding
}

// VideoPortFormat selects the compression format on a video port.
type VideoPortFormat struct {
	Port        int
	Compression VideoCoding
	Framerate   uint32 // Q16
}

// AudioPortFormat selects the encoding on an audio port.
type AudioPortFormat struct {
	Port     int
	Encoding AudioCoding
}

// PCMMode describes linear PCM on an audio port.
type PCMMode struct {
	Port          int
	SampleRate    int
	Channels      int
	BitsPerSample int
	Interleaved   bool
	Signed        bool
	LittleEndian  bool
}

// DecoderPassThrough toggles compressed pass-through on an audio decoder.
type DecoderPassThrough struct {
	Enabled bool
}

// Rect is a display rectangle.
type Rect struct {
	X, Y, Width, Height int
}

// DisplayRegion configures where a video renderer presents frames.
type DisplayRegion struct {
	Port       int
	Fullscreen bool
	Source     Rect
	Dest       Rect
	Width      int
	Height     int
}

// AudioDestination names the output a renderer plays to.
type AudioDestination struct {
	Name string
}

// ClockReferenceSource marks an audio renderer as the clock reference.
type ClockReferenceSource struct {
	Enabled bool
}

// Volume sets a renderer's volume in percent.
type Volume struct {
	Port   int
	Volume int
}

// Mute mutes a renderer port.
type Mute struct {
	Port int
	Mute bool
}

// FrameStep limits an executing stage to Frames more pictures. Zero lifts
// the limit.
type FrameStep struct {
	Port   int
	Frames int
}

// ClockState is the state of the clock stage's media clock.
type ClockState int

// Media clock states.
const (
	ClockStopped ClockState = iota
	ClockWaitingForStartTime
	ClockRunning
)

// String returns the clock state name.
func (s ClockState) String() string {
	switch s {
	case ClockStopped:
		return "stopped"
	case ClockWaitingForStartTime:
		return "waiting_for_start_time"
	case ClockRunning:
		return "running"
	default:
		return "unknown"
	}
}

// TimeClockState is the clock stage's state configuration.
type TimeClockState struct {
	State     ClockState
	StartTime int64
	Offset    int64 // microseconds
	WaitMask  uint32
}

// TimeScale is the clock stage's Q16 playback scale.
type TimeScale struct {
	Scale int32
}

// RefClock selects the media clock's time source.
type RefClock int

// Reference clocks.
const (
	RefClockNone RefClock = iota
	RefClockAudio
	RefClockVideo
)

// ActiveRefClock is the clock stage's reference clock selection.
type ActiveRefClock struct {
	Clock RefClock
}

// MediaTime reports the clock stage's current media time.
type MediaTime struct {
	Port      int
	Timestamp int64
}

// VideoInfo is the payload of EventVideoInfo.
type VideoInfo struct {
	Width       int
	Height      int
	FrameRate   float64
	Progressive bool
	PARWidth    int
	PARHeight   int
}

// AudioInfo is the payload of EventAudioInfo.
type AudioInfo struct {
	SampleRate int
	Channels   int
}

// ClockUpdate is the payload of EventClockStateChanged.
type ClockUpdate struct {
	State ClockState
	Scale int32
}
