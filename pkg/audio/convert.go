package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Converter normalises capture frames to a mono Target format. Devices that
// deliver stereo or multichannel audio are downmixed first, then resampled.
// Create one per stream; a Converter is not safe for concurrent use.
type Converter struct {
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns frame in the target format. A frame that already matches
// is returned as-is. Frames whose length is not a whole number of samples
// across all channels are dropped (the result has nil Data).
func (c *Converter) Convert(frame AudioFrame) AudioFrame {
	channels := max(frame.Channels, 1)
	if len(frame.Data)%(channels*BytesPerSample) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: misaligned PCM frame, dropping",
				"bytes", len(frame.Data),
				"channels", channels,
			)
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}

	if frame.SampleRate == c.Target.SampleRate && channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Info("audio: converting capture stream",
			"from", formatString(frame.SampleRate, channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := frame.Data
	if channels > 1 {
		pcm = Downmix(pcm, channels)
	}
	pcm = ResampleMono16(pcm, frame.SampleRate, c.Target.SampleRate)
	if c.Target.Channels == 2 {
		pcm = duplicateMono(pcm)
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// Downmix averages each interleaved group of channels into one mono sample.
// Trailing bytes that do not form a complete group are ignored.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * BytesPerSample
	frames := len(pcm) / stride
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(sampleAt(pcm, i*channels+ch))
		}
		putSample(out, i, clamp16(sum/int32(channels)))
	}
	return out
}

// ResampleMono16 resamples mono s16le PCM from srcRate to dstRate using
// linear interpolation. Invalid rates or equal rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	src := len(pcm) / BytesPerSample
	dst := int(int64(src) * int64(dstRate) / int64(srcRate))
	if dst == 0 {
		return nil
	}

	out := make([]byte, dst*BytesPerSample)
	step := float64(srcRate) / float64(dstRate)
	for i := range dst {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < src {
			s1 = sampleAt(pcm, idx+1)
		}
		putSample(out, i, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

func duplicateMono(pcm []byte) []byte {
	n := len(pcm) / BytesPerSample
	out := make([]byte, n*2*BytesPerSample)
	for i := range n {
		s := sampleAt(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
}

func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*BytesPerSample:], uint16(s))
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}

// formatString renders a format for logs, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	switch channels {
	case 1:
		return fmt.Sprintf("%dHz mono", rate)
	case 2:
		return fmt.Sprintf("%dHz stereo", rate)
	}
	return fmt.Sprintf("%dHz %dch", rate, channels)
}
