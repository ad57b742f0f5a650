package audio

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"

	"github.com/trusdx/trusdxd/pkg/logging"
)

// captureFrames is the block size for microphone reads. About 44ms at
// the capture rate, short enough for responsive VOX keying.
const captureFrames = 512

// DeviceInfo describes one audio device visible to the host.
type DeviceInfo struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	HostAPI    string  `json:"host_api"`
	MaxInputs  int     `json:"max_inputs"`
	MaxOutputs int     `json:"max_outputs"`
	SampleRate float64 `json:"default_sample_rate"`
	DefaultIn  bool    `json:"default_input"`
	DefaultOut bool    `json:"default_output"`
}

// Initialize starts the host audio system. Pair with Terminate.
func Initialize() error {
	return portaudio.Initialize()
}

// Terminate shuts the host audio system down.
func Terminate() error {
	return portaudio.Terminate()
}

// ListDevices enumerates the host audio devices.
func ListDevices() ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating audio devices: %w", err)
	}

	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	infos := make([]DeviceInfo, 0, len(devices))
	for i, dev := range devices {
		info := DeviceInfo{
			Index:      i,
			Name:       dev.Name,
			MaxInputs:  dev.MaxInputChannels,
			MaxOutputs: dev.MaxOutputChannels,
			SampleRate: dev.DefaultSampleRate,
			DefaultIn:  dev == defIn,
			DefaultOut: dev == defOut,
		}
		if dev.HostApi != nil {
			info.HostAPI = dev.HostApi.Name
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// findInputDevice resolves a configured device name to a capture device.
// "default" selects the host default, anything else matches by
// case-insensitive substring.
func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" || name == "default" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating audio devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 && strings.Contains(strings.ToLower(dev.Name), want) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("input device %q not found", name)
}

// findOutputDevice resolves a configured device name to a playback device.
func findOutputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" || name == "default" {
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default output device: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating audio devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, dev := range devices {
		if dev.MaxOutputChannels > 0 && strings.Contains(strings.ToLower(dev.Name), want) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("output device %q not found", name)
}

// PlaybackStream plays the radio's unsigned 8-bit audio on a host
// output device.
type PlaybackStream struct {
	log    *logging.Logger
	stream *portaudio.Stream
	buf    []uint8
}

// OpenPlayback opens a mono playback stream at the radio's RX rate.
func OpenPlayback(deviceName string) (*PlaybackStream, error) {
	dev, err := findOutputDevice(deviceName)
	if err != nil {
		return nil, err
	}

	p := &PlaybackStream{
		log: logging.ForComponent("audio"),
		buf: make([]uint8, ChunkSize),
	}

	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = 1
	params.SampleRate = float64(RXSampleRate)
	params.FramesPerBuffer = ChunkSize

	stream, err := portaudio.OpenStream(params, &p.buf)
	if err != nil {
		return nil, fmt.Errorf("opening playback stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("starting playback stream: %w", err)
	}

	p.stream = stream
	p.log.Infof("Playback stream open on %q at %d Hz", dev.Name, RXSampleRate)
	return p, nil
}

// Write plays one chunk. Short chunks are padded with silence so the
// device always receives full buffers. Underruns are absorbed, the
// stream keeps running.
func (p *PlaybackStream) Write(chunk []byte) error {
	n := copy(p.buf, chunk)
	for i := n; i < len(p.buf); i++ {
		p.buf[i] = midScale
	}
	if err := p.stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
		return err
	}
	return nil
}

// Close stops and releases the playback stream.
func (p *PlaybackStream) Close() error {
	if p.stream == nil {
		return nil
	}
	p.stream.Stop()
	err := p.stream.Close()
	p.stream = nil
	return err
}

// CaptureStream records signed 16-bit microphone audio for transmit.
type CaptureStream struct {
	log    *logging.Logger
	stream *portaudio.Stream
	buf    []int16
}

// OpenCapture opens a mono capture stream at the radio's TX rate.
func OpenCapture(deviceName string) (*CaptureStream, error) {
	dev, err := findInputDevice(deviceName)
	if err != nil {
		return nil, err
	}

	c := &CaptureStream{
		log: logging.ForComponent("audio"),
		buf: make([]int16, captureFrames),
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(TXSampleRate)
	params.FramesPerBuffer = captureFrames

	stream, err := portaudio.OpenStream(params, &c.buf)
	if err != nil {
		return nil, fmt.Errorf("opening capture stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("starting capture stream: %w", err)
	}

	c.stream = stream
	c.log.Infof("Capture stream open on %q at %d Hz", dev.Name, TXSampleRate)
	return c, nil
}

// ReadBlock returns one block of captured samples. Overflows are
// absorbed, the device driver drops what it could not buffer.
func (c *CaptureStream) ReadBlock() ([]int16, error) {
	if err := c.stream.Read(); err != nil && err != portaudio.InputOverflowed {
		return nil, err
	}
	block := make([]int16, len(c.buf))
	copy(block, c.buf)
	return block, nil
}

// Close stops and releases the capture stream.
func (c *CaptureStream) Close() error {
	if c.stream == nil {
		return nil
	}
	c.stream.Stop()
	err := c.stream.Close()
	c.stream = nil
	return err
}
