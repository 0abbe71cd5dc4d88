package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flavioheleno/monostream/dither"
	"github.com/flavioheleno/monostream/internal/config"
	"github.com/flavioheleno/monostream/source"
)

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	return cfg
}

func TestOpenSource(t *testing.T) {
	cfg := defaultConfig(t)

	tests := []struct {
		name  string
		flags streamFlags
		args  []string
		want  any
	}{
		{"gradient", streamFlags{}, nil, &source.Gradient{}},
		{"screen", streamFlags{screen: true}, nil, &source.FFmpeg{}},
		{"webcam", streamFlags{webcam: "/dev/video0"}, nil, &source.FFmpeg{}},
		{"video", streamFlags{}, []string{"clip.mp4"}, &source.FFmpeg{}},
		{"images", streamFlags{}, []string{"a.png", "b.JPG"}, &source.Images{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := openSource(cfg, tt.flags, tt.args)
			require.NoError(t, err)
			assert.IsType(t, tt.want, src)
		})
	}

	_, err := openSource(cfg, streamFlags{}, []string{"a.mp4", "b.mp4"})
	assert.Error(t, err)
}

func TestAlgorithmsCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"algorithms"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, len(dither.Keys()))
	assert.Contains(t, lines, string(dither.Default)+" (default)")
	assert.Contains(t, lines, string(dither.Atkinson))
}

func TestDitherCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	out := filepath.Join(dir, "out.png")

	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for x := 16; x < 32; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.White)
		}
	}
	f, err := os.Create(in)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	cmd := newRootCmd()
	cmd.SetArgs([]string{"dither", "--width", "16", "--height", "8", "--dither", "threshold", in, out})
	require.NoError(t, cmd.Execute())

	f, err = os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	got, err := png.Decode(f)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 16, 8), got.Bounds())
	r, _, _, _ := got.At(0, 0).RGBA()
	assert.Zero(t, r)
	r, _, _, _ = got.At(15, 7).RGBA()
	assert.NotZero(t, r)
}

func TestInvalidConfigFails(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"algorithms", "--height", "4"})
	assert.Error(t, cmd.Execute())
}

type closeTracker struct {
	source.Source
	closed bool
}

func (s *closeTracker) Close() error {
	s.closed = true
	return s.Source.Close()
}

func TestRunStreamClosesSource(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Transport.Port = ""
	cfg.Metrics.Listen = ""

	tracked := &closeTracker{Source: source.NewGradient(cfg.Display.Width, cfg.Display.Height)}
	newSource = func(*config.Config, streamFlags, []string) (source.Source, error) {
		return tracked, nil
	}
	t.Cleanup(func() { newSource = openSource })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runStream(ctx, cfg, streamFlags{}, nil))
	assert.True(t, tracked.closed)
}
