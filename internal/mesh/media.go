package mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// Opus pages in the sample files are 20ms apart
const oggPageDuration = 20 * time.Millisecond

// CaptureState is the lifecycle of a local capture session
type CaptureState int

const (
	CaptureUnacquired CaptureState = iota
	CaptureAcquiring
	CaptureAcquired
	CaptureReleased
)

func (s CaptureState) String() string {
	switch s {
	case CaptureUnacquired:
		return "unacquired"
	case CaptureAcquiring:
		return "acquiring"
	case CaptureAcquired:
		return "acquired"
	case CaptureReleased:
		return "released"
	default:
		return "unknown"
	}
}

// MediaSource acquires the local capture session
type MediaSource interface {
	Acquire(ctx context.Context) (*Capture, error)
}

// Capture is one local audio and video session. Its tracks are attached to
// every peer connection; disabling a kind drops its samples instead of
// removing the track, so no link needs renegotiating.
type Capture struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	mu      sync.RWMutex
	state   CaptureState
	enabled models.MediaState

	releaseOnce sync.Once
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closers     []io.Closer
}

// NewCapture creates an Opus audio track and a VP8 video track under one stream
func NewCapture(streamID string) (*Capture, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	return &Capture{
		audio:   audio,
		video:   video,
		state:   CaptureAcquiring,
		enabled: models.MediaState{Audio: true, Video: true},
		cancel:  func() {},
	}, nil
}

// Tracks returns the local tracks to attach to a peer connection
func (c *Capture) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{c.audio, c.video}
}

// State returns the capture lifecycle state
func (c *Capture) State() CaptureState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetEnabled turns a kind on or off for every link at once
func (c *Capture) SetEnabled(kind models.MediaKind, enabled bool) {
	c.mu.Lock()
	c.enabled = c.enabled.With(kind, enabled)
	c.mu.Unlock()
}

// Enabled returns the current flags
func (c *Capture) Enabled() models.MediaState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// WriteSample writes to the track of kind. Samples for a disabled kind are
// dropped silently.
func (c *Capture) WriteSample(kind models.MediaKind, sample media.Sample) error {
	c.mu.RLock()
	state, enabled := c.state, c.enabled.Get(kind)
	c.mu.RUnlock()

	if state == CaptureReleased {
		return ErrCaptureReleased
	}
	if !enabled {
		return nil
	}

	if kind == models.MediaAudio {
		return c.audio.WriteSample(sample)
	}
	return c.video.WriteSample(sample)
}

// Release stops every feeder goroutine and closes the inputs. Only the
// first call has any effect.
func (c *Capture) Release() {
	c.releaseOnce.Do(func() {
		c.mu.Lock()
		c.state = CaptureReleased
		c.mu.Unlock()

		c.cancel()
		c.wg.Wait()
		for _, closer := range c.closers {
			closer.Close()
		}
	})
}

func (c *Capture) markAcquired() {
	c.mu.Lock()
	c.state = CaptureAcquired
	c.mu.Unlock()
}

// SilentSource provides tracks that never carry samples. Remote peers still
// see both tracks and the media-state signalling works as usual.
type SilentSource struct {
	StreamID string
}

// Acquire implements MediaSource
func (s SilentSource) Acquire(ctx context.Context) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := NewCapture(streamIDOr(s.StreamID))
	if err != nil {
		return nil, err
	}
	c.markAcquired()
	return c, nil
}

// SampleSource loops an IVF (VP8) file and an Ogg (Opus) file into the
// tracks. Either path may be empty.
type SampleSource struct {
	StreamID  string
	VideoPath string
	AudioPath string
}

// Acquire opens both files and starts feeding. A file that cannot be opened
// fails the whole acquisition.
func (s SampleSource) Acquire(ctx context.Context) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := NewCapture(streamIDOr(s.StreamID))
	if err != nil {
		return nil, err
	}

	var video, audio *os.File
	if s.VideoPath != "" {
		if video, err = openIVF(s.VideoPath); err != nil {
			return nil, err
		}
		c.closers = append(c.closers, video)
	}
	if s.AudioPath != "" {
		if audio, err = openOgg(s.AudioPath); err != nil {
			if video != nil {
				video.Close()
			}
			return nil, err
		}
		c.closers = append(c.closers, audio)
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if video != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.feedVideo(feedCtx, video)
		}()
	}
	if audio != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.feedAudio(feedCtx, audio)
		}()
	}

	c.markAcquired()
	return c, nil
}

func openIVF(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read ivf header: %w", err)
	}
	if header.FourCC != "VP80" {
		f.Close()
		return nil, fmt.Errorf("video %s is %s, want VP80", path, header.FourCC)
	}
	return f, nil
}

func openOgg(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	if _, _, err := oggreader.NewWith(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("read ogg header: %w", err)
	}
	return f, nil
}

// feedVideo writes one frame per IVF timebase tick, rewinding at EOF
func (c *Capture) feedVideo(ctx context.Context, f *os.File) {
	for {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return
		}
		ivf, header, err := ivfreader.NewWith(f)
		if err != nil {
			return
		}

		interval := time.Second
		if header.TimebaseDenominator > 0 {
			interval = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
		}
		ticker := time.NewTicker(interval)

		for {
			frame, _, err := ivf.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				ticker.Stop()
				return
			}
			if err := c.WriteSample(models.MediaVideo, media.Sample{Data: frame, Duration: interval}); err != nil {
				ticker.Stop()
				return
			}

			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
			}
		}
		ticker.Stop()
	}
}

// feedAudio writes one Opus page per 20ms, rewinding at EOF
func (c *Capture) feedAudio(ctx context.Context, f *os.File) {
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	for {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return
		}
		ogg, _, err := oggreader.NewWith(f)
		if err != nil {
			return
		}

		var lastGranule uint64
		for {
			page, header, err := ogg.ParseNextPage()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return
			}

			samples := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			duration := time.Duration(float64(samples) / 48000 * float64(time.Second))

			if err := c.WriteSample(models.MediaAudio, media.Sample{Data: page, Duration: duration}); err != nil {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

func streamIDOr(id string) string {
	if id == "" {
		return "mesh"
	}
	return id
}
