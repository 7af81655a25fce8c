package player

import (
	"context"
	"sync"

	"github.com/jmylchreest/esplayer/internal/resource"
)

// fakeRequestor records the calls the player makes on its resource
// session.
type fakeRequestor struct {
	id         string
	acquireErr error

	mu           sync.Mutex
	acquires     int
	releases     int
	eos          int
	contentReady int
	screenSaver  bool
	lastRequest  resource.Request
	videoInfo    resource.VideoInfo
	policy       func()
	plane        func(int32) bool
}

func newFakeRequestor() *fakeRequestor {
	return &fakeRequestor{id: "0123456789abcdef"}
}

func (f *fakeRequestor) ConnectionID() string { return f.id }

func (f *fakeRequestor) RegisterPolicyActionCallback(fn func()) {
	f.mu.Lock()
	f.policy = fn
	f.mu.Unlock()
}

func (f *fakeRequestor) RegisterPlaneIDCallback(fn func(int32) bool) {
	f.mu.Lock()
	f.plane = fn
	f.mu.Unlock()
}

func (f *fakeRequestor) AcquireResources(_ context.Context, req resource.Request) (resource.PortResources, error) {
	f.mu.Lock()
	f.acquires++
	f.lastRequest = req
	plane, err := f.plane, f.acquireErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if plane != nil {
		plane(1)
	}
	return resource.PortResources{{Resource: "VDEC0", Index: 0}, {Resource: "ADEC0", Index: 0}}, nil
}

func (f *fakeRequestor) ReleaseResource(context.Context) error {
	f.mu.Lock()
	f.releases++
	f.mu.Unlock()
	return nil
}

func (f *fakeRequestor) NotifyForeground() error { return nil }
func (f *fakeRequestor) NotifyBackground() error { return nil }
func (f *fakeRequestor) NotifyActivity() error { return nil }
func (f *fakeRequestor) AllowPolicyAction(bool) {}
func (f *fakeRequestor) MuteAudio(bool) error { return nil }
func (f *fakeRequestor) MuteVideo(bool) error { return nil }
func (f *fakeRequestor) EnableScreenSaver() error { return f.setScreenSaver(true) }
func (f *fakeRequestor) DisableScreenSaver() error { return f.setScreenSaver(false) }

func (f *fakeRequestor) setScreenSaver(on bool) error {
	f.mu.Lock()
	f.screenSaver = on
	f.mu.Unlock()
	return nil
}

func (f *fakeRequestor) EndOfStream() error {
	f.mu.Lock()
	f.eos++
	f.mu.Unlock()
	return nil
}

func (f *fakeRequestor) MediaContentReady(bool) error {
	f.mu.Lock()
	f.contentReady++
	f.mu.Unlock()
	return nil
}

func (f *fakeRequestor) SetVideoInfo(info resource.VideoInfo) error {
	f.mu.Lock()
	f.videoInfo = info
	f.mu.Unlock()
	return nil
}

func (f *fakeRequestor) SetVideoDisplayWindow(resource.Window, bool) error { return nil }

func (f *fakeRequestor) SetVideoCustomDisplayWindow(_, _ resource.Window, _ bool) error {
	return nil
}

func (f *fakeRequestor) counts() (acquires, releases, eos, ready int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires, f.releases, f.eos, f.contentReady
}

func (f *fakeRequestor) revoke() {
	f.mu.Lock()
	fn := f.policy
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}
