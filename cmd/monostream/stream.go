package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/host/v3"

	"github.com/flavioheleno/monostream/dither"
	"github.com/flavioheleno/monostream/internal/config"
	"github.com/flavioheleno/monostream/internal/metrics"
	"github.com/flavioheleno/monostream/internal/session"
	"github.com/flavioheleno/monostream/source"
	"github.com/flavioheleno/monostream/transport"
)

type streamFlags struct {
	screen     bool
	display    string
	webcam     string
	previewI2C string
	preview    bool
}

func newStreamCmd(a *app) *cobra.Command {
	var f streamFlags

	cmd := &cobra.Command{
		Use:   "stream [input...]",
		Short: "Stream a video, GIF, images, the screen or a webcam to the display",
		Long: `Stream frames to the display until the input ends or the process is
interrupted.

The input is a video file (decoded by ffmpeg), an animated GIF or a list of
still images. Use --screen or --webcam to capture live input instead. Without
any input a test gradient is shown.

Without --port no serial link is opened and frames are only rendered to the
local preview, if any. SIGHUP restarts the input from the beginning.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStream(ctx, a.cfg, f, args)
		},
	}

	flags := cmd.Flags()
	flags.String("port", "", "serial port of the display, e.g. /dev/ttyACM0 or COM3")
	flags.Int("baud", transport.DefaultBaudRate, "serial baud rate")
	flags.Duration("reset-delay", transport.DefaultResetDelay, "wait after opening the port for the board to reboot; 0 disables")
	flags.Duration("ack-timeout", 2*time.Second, "maximum wait for a frame acknowledgment; 0 waits forever")
	flags.Float64("fps", 15, "target frames per second")
	flags.Bool("loop", false, "restart the input when it ends")
	flags.Bool("skip-frames", true, "drop input frames to keep up when the display is slower than --fps")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")
	flags.BoolVar(&f.screen, "screen", false, "capture the screen")
	flags.StringVar(&f.display, "screen-display", "", "display to capture with --screen (X11 display, avfoundation device)")
	flags.StringVar(&f.webcam, "webcam", "", "capture a camera device, e.g. /dev/video0")
	flags.BoolVar(&f.preview, "preview", false, "mirror frames on a local SSD1306 over I²C")
	flags.StringVar(&f.previewI2C, "preview-i2c", "", "I²C bus of the local preview (empty for the default bus)")

	a.v.BindPFlag("transport.port", flags.Lookup("port"))
	a.v.BindPFlag("transport.baud_rate", flags.Lookup("baud"))
	a.v.BindPFlag("transport.reset_delay", flags.Lookup("reset-delay"))
	a.v.BindPFlag("transport.ack_timeout", flags.Lookup("ack-timeout"))
	a.v.BindPFlag("stream.fps", flags.Lookup("fps"))
	a.v.BindPFlag("stream.loop", flags.Lookup("loop"))
	a.v.BindPFlag("stream.skip_frames", flags.Lookup("skip-frames"))
	a.v.BindPFlag("metrics.listen", flags.Lookup("metrics-addr"))

	return cmd
}

func runStream(ctx context.Context, cfg *config.Config, f streamFlags, args []string) error {
	src, err := newSource(cfg, f, args)
	if err != nil {
		return err
	}
	defer src.Close()

	var opts []session.Option

	if f.preview {
		preview, closer, err := openPreview(f.previewI2C, cfg.Display.Width, cfg.Display.Height)
		if err != nil {
			return err
		}
		defer closer.Close()
		opts = append(opts, session.WithPreview(preview))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts = append(opts, session.WithMetrics(metrics.NewSession(reg)))

	if cfg.Transport.Port != "" {
		opts = append(opts, session.WithOpener(transport.OpenSerialTransport))
	}

	m, err := session.New(session.Config{
		Width:      cfg.Display.Width,
		Height:     cfg.Display.Height,
		FPS:        cfg.Stream.FPS,
		Loop:       cfg.Stream.Loop,
		SkipFrames: cfg.Stream.SkipFrames,
		Algorithm:  dither.Key(cfg.Stream.Dither),
		Params:     cfg.DitherParams(),
		AckTimeout: cfg.Transport.AckTimeout,
		Transport:  cfg.TransportConfig(),
	}, opts...)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Start(ctx, src); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return supervise(ctx, m)
	})

	err = g.Wait()
	if errors.Is(err, errStreamEnded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// errStreamEnded stops the errgroup once the input is exhausted.
var errStreamEnded = errors.New("stream ended")

// supervise restarts the stream on SIGHUP and returns when the stream ends,
// fails or ctx is cancelled.
func supervise(ctx context.Context, m *session.Manager) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down")
			return ctx.Err()

		case <-hup:
			log.Info().Msg("Restarting stream")
			if err := m.Restart(ctx); err != nil {
				return err
			}

		case <-m.Done():
			stats := m.Stats()
			switch stats.State {
			case session.Error:
				return stats.LastError
			case session.Ended:
				log.Info().
					Uint64("frames_sent", stats.FramesSent).
					Uint64("frames_rendered", stats.FramesRendered).
					Msg("Stream ended")
				return errStreamEnded
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// newSource is replaced in tests.
var newSource = openSource

// openSource picks the frame source from the flags and arguments.
func openSource(cfg *config.Config, f streamFlags, args []string) (source.Source, error) {
	w, h, fps := cfg.Display.Width, cfg.Display.Height, cfg.Stream.FPS

	switch {
	case f.screen:
		return source.NewScreen(f.display, w, h, fps), nil
	case f.webcam != "":
		return source.NewWebcam(f.webcam, w, h, fps), nil
	case len(args) == 0:
		log.Info().Msg("No input given, showing test gradient")
		return source.NewGradient(w, h), nil
	case len(args) == 1 && strings.EqualFold(filepath.Ext(args[0]), ".gif"):
		return source.OpenGIF(args[0])
	case allImages(args):
		return source.NewImages(args...)
	case len(args) == 1:
		return source.NewVideo(args[0], w, h, fps), nil
	}
	return nil, fmt.Errorf("expected a single video file or a list of images, got %d inputs", len(args))
}

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

func allImages(paths []string) bool {
	for _, p := range paths {
		if !imageExts[strings.ToLower(filepath.Ext(p))] {
			return false
		}
	}
	return true
}

// openPreview opens an SSD1306 on the local I²C bus.
func openPreview(bus string, w, h int) (display.Drawer, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize periph.io: %w", err)
	}

	b, err := i2creg.Open(bus)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open I²C bus: %w", err)
	}

	opts := ssd1306.DefaultOpts
	opts.W = w
	opts.H = h
	dev, err := ssd1306.NewI2C(b, &opts)
	if err != nil {
		b.Close()
		return nil, nil, fmt.Errorf("failed to open preview display: %w", err)
	}
	log.Info().Str("bus", b.String()).Str("display", dev.String()).Msg("Preview display ready")
	return dev, previewCloser{dev: dev, bus: b}, nil
}

type previewCloser struct {
	dev *ssd1306.Dev
	bus io.Closer
}

func (p previewCloser) Close() error {
	return errors.Join(p.dev.Halt(), p.bus.Close())
}
