// Package device implements [audio.Device] on top of miniaudio (via malgo),
// giving the voice loop a local microphone and speaker.
//
// Capture runs on miniaudio's callback thread. The callback slices the
// incoming PCM into fixed-size chunks and pushes them into a bounded channel
// without ever blocking; chunks that do not fit are dropped and reported via
// the OnDrop hook. Playback feeds a second device from a byte queue and Play
// blocks until the device has consumed every byte it was given.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/parley/pkg/audio"
)

// Config describes the device format and buffering.
type Config struct {
	// SampleRate in Hz for both capture and playback. Default 16000.
	SampleRate int

	// Channels for both capture and playback. Default 1.
	Channels int

	// ChunkDuration is the duration of each captured [audio.Chunk].
	// Default 30 ms.
	ChunkDuration time.Duration

	// BufferChunks is the capacity of the capture hand-off channel.
	// Default 64.
	BufferChunks int

	// OnDrop, if set, is called from the capture callback each time a chunk is
	// dropped because the consumer fell behind. It must not block.
	OnDrop func()
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = audio.DefaultChannels
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = 30 * time.Millisecond
	}
	if c.BufferChunks <= 0 {
		c.BufferChunks = 64
	}
}

// Device is a malgo-backed capture and playback device.
type Device struct {
	cfg   Config
	mctx  *malgo.AllocatedContext
	speak *malgo.Device

	// capture state
	capMu     sync.Mutex
	capturing bool

	// playback state, guarded by playMu
	playMu   sync.Mutex
	pending  []byte
	drained  chan struct{}
	closeOne sync.Once
}

// Open initialises the miniaudio context and the playback device.
// The capture device is opened lazily per [Device.Chunks] call.
func Open(cfg Config) (*Device, error) {
	cfg.applyDefaults()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("device: init context: %w", err)
	}

	d := &Device{cfg: cfg, mctx: mctx}

	pbCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	pbCfg.Playback.Format = malgo.FormatS16
	pbCfg.Playback.Channels = uint32(cfg.Channels)
	pbCfg.SampleRate = uint32(cfg.SampleRate)
	pbCfg.Alsa.NoMMap = 1

	speak, err := malgo.InitDevice(mctx.Context, pbCfg, malgo.DeviceCallbacks{
		Data: d.onPlayback,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: init playback: %w", err)
	}
	if err := speak.Start(); err != nil {
		speak.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: start playback: %w", err)
	}
	d.speak = speak
	return d, nil
}

// ─── Capture ─────────────────────────────────────────────────────────────────

// Chunks starts the capture device and returns a channel of fixed-duration
// chunks. The device is stopped and the channel closed when ctx is cancelled.
// Only one capture stream may be active at a time; the stream is released
// before its channel closes, so a caller that drains the channel may call
// Chunks again right away.
func (d *Device) Chunks(ctx context.Context) (<-chan audio.Chunk, error) {
	d.capMu.Lock()
	if d.capturing {
		d.capMu.Unlock()
		return nil, errors.New("device: capture already active")
	}
	d.capturing = true
	d.capMu.Unlock()

	out := make(chan audio.Chunk, d.cfg.BufferChunks)
	chunkSamples := int(int64(d.cfg.SampleRate)*int64(d.cfg.ChunkDuration)/int64(time.Second)) * d.cfg.Channels
	pending := make([]int16, 0, chunkSamples)
	started := time.Now()

	onData := func(_, input []byte, _ uint32) {
		for _, s := range audio.PCMToSamples(input) {
			pending = append(pending, s)
			if len(pending) < chunkSamples {
				continue
			}
			c := audio.Chunk{
				Samples:    pending,
				SampleRate: d.cfg.SampleRate,
				Channels:   d.cfg.Channels,
				Timestamp:  time.Since(started),
			}
			pending = make([]int16, 0, chunkSamples)
			select {
			case out <- c:
			default:
				if d.cfg.OnDrop != nil {
					d.cfg.OnDrop()
				}
			}
		}
	}

	capCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	capCfg.Capture.Format = malgo.FormatS16
	capCfg.Capture.Channels = uint32(d.cfg.Channels)
	capCfg.SampleRate = uint32(d.cfg.SampleRate)
	capCfg.Alsa.NoMMap = 1

	mic, err := malgo.InitDevice(d.mctx.Context, capCfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		d.releaseCapture()
		return nil, fmt.Errorf("device: init capture: %w", err)
	}
	if err := mic.Start(); err != nil {
		mic.Uninit()
		d.releaseCapture()
		return nil, fmt.Errorf("device: start capture: %w", err)
	}

	go func() {
		<-ctx.Done()
		// Stop waits for the callback to return, so nothing sends on out
		// after this point.
		if err := mic.Stop(); err != nil {
			slog.Warn("device: stop capture", "err", err)
		}
		mic.Uninit()
		d.releaseCapture()
		close(out)
	}()
	return out, nil
}

func (d *Device) releaseCapture() {
	d.capMu.Lock()
	d.capturing = false
	d.capMu.Unlock()
}

// ─── Playback ────────────────────────────────────────────────────────────────

// Play queues pcm on the playback device and blocks until it has been fully
// consumed by the device or ctx is cancelled. On cancellation the remaining
// bytes are discarded.
func (d *Device) Play(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	done := make(chan struct{})
	d.playMu.Lock()
	d.pending = append(d.pending, pcm...)
	d.drained = done
	d.playMu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.playMu.Lock()
		d.pending = nil
		d.drained = nil
		d.playMu.Unlock()
		return ctx.Err()
	}
}

// onPlayback runs on the miniaudio thread and copies queued PCM into the
// device buffer, padding with silence.
func (d *Device) onPlayback(output, _ []byte, _ uint32) {
	d.playMu.Lock()
	defer d.playMu.Unlock()

	n := copy(output, d.pending)
	clear(output[n:])
	d.pending = d.pending[n:]
	if len(d.pending) == 0 && d.drained != nil {
		close(d.drained)
		d.drained = nil
	}
}

// Close stops playback and releases the miniaudio context. Safe to call more
// than once.
func (d *Device) Close() error {
	var err error
	d.closeOne.Do(func() {
		if d.speak != nil {
			err = d.speak.Stop()
			d.speak.Uninit()
		}
		if uerr := d.mctx.Uninit(); uerr != nil {
			err = errors.Join(err, uerr)
		}
		d.mctx.Free()
	})
	return err
}

var _ audio.Device = (*Device)(nil)
