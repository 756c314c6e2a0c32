package peer

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Media are the local tracks offered to the other participant.
type Media struct {
	Audio  webrtc.TrackLocal
	Camera webrtc.TrackLocal
	Screen webrtc.TrackLocal
}

// Source acquires local media. Failures are *DeviceError.
type Source interface {
	Acquire(ctx context.Context) (*Media, error)
}

// SyntheticSource produces static-sample tracks that carry no captured
// media. It is what the terminal client sends.
type SyntheticSource struct {
	StreamID string
	Screen   bool
}

func (s SyntheticSource) Acquire(ctx context.Context) (*Media, error) {
	streamID := s.StreamID
	if streamID == "" {
		streamID = "liveroom-" + uuid.NewString()[:8]
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, &DeviceError{Device: "microphone", Kind: DeviceUnknown, Err: err}
	}
	camera, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "camera", streamID)
	if err != nil {
		return nil, &DeviceError{Device: "camera", Kind: DeviceUnknown, Err: err}
	}

	media := &Media{Audio: audio, Camera: camera}
	if s.Screen {
		screen, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", streamID)
		if err != nil {
			return nil, &DeviceError{Device: "screen", Kind: DeviceUnknown, Err: err}
		}
		media.Screen = screen
	}
	return media, nil
}

// DeviceSource checks that the camera and microphone device nodes can be
// opened before handing out tracks, so a busy or forbidden device is
// reported before any negotiation starts.
type DeviceSource struct {
	Camera     string
	Microphone string
	Tracks     Source

	open func(name string) (*os.File, error)
}

func (d DeviceSource) Acquire(ctx context.Context) (*Media, error) {
	probes := []struct{ device, path string }{
		{"camera", d.Camera},
		{"microphone", d.Microphone},
	}
	for _, p := range probes {
		if p.path == "" {
			continue
		}
		if err := d.probe(p.path); err != nil {
			return nil, &DeviceError{Device: p.device, Kind: ClassifyDeviceError(err), Err: err}
		}
	}

	tracks := d.Tracks
	if tracks == nil {
		tracks = SyntheticSource{Screen: true}
	}
	return tracks.Acquire(ctx)
}

func (d DeviceSource) probe(path string) error {
	open := d.open
	if open == nil {
		open = func(name string) (*os.File, error) { return os.OpenFile(name, os.O_RDWR, 0) }
	}
	f, err := open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// ClassifyDeviceError maps an OS error from opening a device.
func ClassifyDeviceError(err error) DeviceErrorKind {
	switch {
	case err == nil:
		return DeviceUnknown
	case errors.Is(err, syscall.EBUSY):
		return DeviceBusy
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return DevicePermissionDenied
	}
	return DeviceUnknown
}

// ClassifyDeviceName maps a browser media error name, as reported by a web
// participant.
func ClassifyDeviceName(name string) DeviceErrorKind {
	switch strings.TrimSpace(name) {
	case "NotReadableError", "TrackStartError":
		return DeviceBusy
	case "NotAllowedError", "PermissionDeniedError", "SecurityError":
		return DevicePermissionDenied
	}
	return DeviceUnknown
}
