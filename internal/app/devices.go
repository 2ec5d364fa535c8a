package app

import (
	"fmt"
	"time"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/audio/pcmfile"
)

// frameDurationOption is the DeviceEntry.Options key for the capture frame
// length of the pcmfile driver, as a Go duration string.
const frameDurationOption = "frame_duration"

// NewRegistry returns a [config.Registry] with the built-in audio drivers
// registered.
func NewRegistry() *config.Registry {
	reg := config.NewRegistry()
	RegisterBuiltinDevices(reg)
	return reg
}

// RegisterBuiltinDevices registers the file-backed "pcmfile" capture and
// render drivers.
func RegisterBuiltinDevices(reg *config.Registry) {
	reg.RegisterCapture("pcmfile", func(e config.DeviceEntry) (audio.CaptureSource, error) {
		opts := []pcmfile.CaptureOption{pcmfile.WithRealtime(e.Realtime)}
		if d, err := durationOption(e.Options, frameDurationOption); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, pcmfile.WithFrameDuration(d))
		}
		f := audio.Format{SampleRate: e.SampleRate, Channels: e.Channels}
		return pcmfile.NewCapture(e.Path, f, opts...), nil
	})
	reg.RegisterRender("pcmfile", func(e config.DeviceEntry) (audio.RenderSink, error) {
		return pcmfile.NewWAVSink(e.Path), nil
	})
}

func durationOption(opts map[string]any, key string) (time.Duration, error) {
	v, ok := opts[key]
	if !ok {
		return 0, nil
	}
	s, _ := v.(string)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("app: audio option %s: invalid duration %v", key, v)
	}
	return d, nil
}
