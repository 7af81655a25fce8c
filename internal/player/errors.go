package player

import (
	"errors"
	"fmt"
)

// Code is a player status code. Non-zero codes implement error so
// operations can wrap them and callers can match with errors.Is.
type Code int

// Status codes.
const (
	OK      Code = 0
	ErrFail Code = -1

	ErrFeedCodec        Code = -1001
	ErrFeedInvalidInput Code = -1002
	ErrFeedInvalidState Code = -1003

	ErrVideoUnsupported Code = -2000
	ErrVideoCodec       Code = -2001
	ErrVideoRender      Code = -2002
	ErrVideoTunnel      Code = -2003
	ErrVideoBuffer      Code = -2004
	ErrVideoState       Code = -2005

	ErrAudioUnsupported Code = -2100
	ErrAudioCodec       Code = -2101
	ErrAudioRender      Code = -2102
	ErrAudioTunnel      Code = -2103
	ErrAudioBuffer      Code = -2104
	ErrAudioState       Code = -2105

	ErrClock       Code = -2200
	ErrClockTunnel Code = -2203
	ErrClockBuffer Code = -2204
	ErrClockState  Code = -2205

	ErrSetState Code = -2300
)

var codeNames = map[Code]string{
	OK:                  "success",
	ErrFail:             "fail",
	ErrFeedCodec:        "feed codec error",
	ErrFeedInvalidInput: "feed invalid input",
	ErrFeedInvalidState: "feed invalid state",
	ErrVideoUnsupported: "video unsupported",
	ErrVideoCodec:       "video codec error",
	ErrVideoRender:      "video render error",
	ErrVideoTunnel:      "video tunnel error",
	ErrVideoBuffer:      "video buffer error",
	ErrVideoState:       "video state error",
	ErrAudioUnsupported: "audio unsupported",
	ErrAudioCodec:       "audio codec error",
	ErrAudioRender:      "audio render error",
	ErrAudioTunnel:      "audio tunnel error",
	ErrAudioBuffer:      "audio buffer error",
	ErrAudioState:       "audio state error",
	ErrClock:            "clock error",
	ErrClockTunnel:      "clock tunnel error",
	ErrClockBuffer:      "clock buffer error",
	ErrClockState:       "clock state error",
	ErrSetState:         "set state error",
}

// Error implements error.
func (c Code) Error() string {
	if name, ok := codeNames[c]; ok {
		return fmt.Sprintf("esplayer: %s (%d)", name, int(c))
	}
	return fmt.Sprintf("esplayer: status %d", int(c))
}

type feedFull struct{}

func (feedFull) Error() string { return "esplayer: feed full (-1)" }

// ErrFeedFull reports that the hardware input queue of a stream has no free
// buffer. It is a retry signal rather than a failure and shares the numeric
// status of ErrFail, but errors.Is tells the two apart.
var ErrFeedFull error = feedFull{}

// CodeOf returns the numeric status carried by err: 0 for nil, the wrapped
// Code if any, and ErrFail otherwise.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrFail
}

func wrap(code Code, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), code)
}

func wrapErr(code Code, err error, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), code, err)
}
