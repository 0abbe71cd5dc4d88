package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"runtime"
	"sync"
)

// FFmpeg yields frames decoded by an ffmpeg child process. ffmpeg scales and
// letterboxes to the requested size and writes raw RGBA frames to a pipe.
//
// The process is started by the first Next; Rewind and Close stop it.
type FFmpeg struct {
	bin  string
	args []string
	w, h int

	mu     sync.Mutex
	cmd    *exec.Cmd
	frames chan frameResult
	stop   chan struct{}
}

type frameResult struct {
	img *image.RGBA
	err error
}

// NewVideo plays a video file at fps frames per second.
func NewVideo(path string, w, h int, fps float64) *FFmpeg {
	return newFFmpeg([]string{"-i", path}, w, h, fps)
}

// NewScreen captures an X11 display such as ":0.0" (gdigrab desktop on
// Windows, avfoundation screen 1 on macOS when display is empty).
func NewScreen(display string, w, h int, fps float64) *FFmpeg {
	var in []string
	switch runtime.GOOS {
	case "windows":
		in = []string{"-f", "gdigrab", "-i", "desktop"}
	case "darwin":
		if display == "" {
			display = "1"
		}
		in = []string{"-f", "avfoundation", "-i", display}
	default:
		if display == "" {
			display = ":0.0"
		}
		in = []string{"-f", "x11grab", "-i", display}
	}
	return newFFmpeg(in, w, h, fps)
}

// NewWebcam captures a camera, e.g. /dev/video0 (a dshow device name on
// Windows).
func NewWebcam(device string, w, h int, fps float64) *FFmpeg {
	var in []string
	if runtime.GOOS == "windows" {
		in = []string{"-f", "dshow", "-i", "video=" + device}
	} else {
		in = []string{"-f", "v4l2", "-i", device}
	}
	return newFFmpeg(in, w, h, fps)
}

func newFFmpeg(input []string, w, h int, fps float64) *FFmpeg {
	args := append([]string{"-hide_banner", "-loglevel", "error"}, input...)
	args = append(args,
		"-vf", filter(w, h, fps),
		"-f", "image2pipe",
		"-pix_fmt", "rgba",
		"-vcodec", "rawvideo",
		"-",
	)
	return &FFmpeg{bin: "ffmpeg", args: args, w: w, h: h}
}

// filter resamples to fps and letterboxes into w×h on black.
func filter(w, h int, fps float64) string {
	f := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black",
		w, h, w, h,
	)
	if fps > 0 {
		f = fmt.Sprintf("fps=%g,%s", fps, f)
	}
	return f
}

// Args returns the ffmpeg command line, without the binary.
func (s *FFmpeg) Args() []string {
	return append([]string(nil), s.args...)
}

func (s *FFmpeg) Next(ctx context.Context) (image.Image, error) {
	frames, err := s.running()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r, ok := <-frames:
		if !ok {
			return nil, io.EOF
		}
		if r.err != nil {
			return nil, r.err
		}
		return r.img, nil
	}
}

// running starts the process if needed and returns its frame channel.
func (s *FFmpeg) running() (<-chan frameResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return s.frames, nil
	}

	cmd := exec.Command(s.bin, s.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("source: ffmpeg: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("source: ffmpeg start: %w", err)
	}

	s.cmd = cmd
	s.frames = make(chan frameResult, 2)
	s.stop = make(chan struct{})
	go readFrames(stdout, s.w, s.h, s.frames, s.stop)
	return s.frames, nil
}

// readFrames decodes consecutive w×h RGBA frames from r until it ends or stop
// is closed. A trailing partial frame is dropped. frames is closed on return.
func readFrames(r io.Reader, w, h int, frames chan<- frameResult, stop <-chan struct{}) {
	defer close(frames)

	size := w * h * 4
	for {
		pix := make([]byte, size)
		if _, err := io.ReadFull(r, pix); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			select {
			case frames <- frameResult{err: fmt.Errorf("source: ffmpeg read: %w", err)}:
			case <-stop:
			}
			return
		}

		img := &image.RGBA{
			Pix:    pix,
			Stride: w * 4,
			Rect:   image.Rect(0, 0, w, h),
		}
		select {
		case frames <- frameResult{img: img}:
		case <-stop:
			return
		}
	}
}

// Rewind stops the process; the next frame starts it again from the
// beginning.
func (s *FFmpeg) Rewind() error {
	s.halt()
	return nil
}

func (s *FFmpeg) Close() error {
	s.halt()
	return nil
}

func (s *FFmpeg) halt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return
	}
	close(s.stop)
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	// the pipe must be fully read before Wait closes it
	for range s.frames {
	}
	s.cmd.Wait()
	s.cmd = nil
	s.frames = nil
	s.stop = nil
}
