package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flavioheleno/monostream/internal/config"
)

// app carries the settings shared by all subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "monostream",
		Short: "Stream dithered video to a monochrome OLED over serial",
		Long: `monostream turns video files, screen capture or a webcam into 1-bit frames
and streams them to an SSD1306-class display behind a microcontroller.

Frames are dithered on the host, packed in the display's page layout and sent
over a serial link; the microcontroller acknowledges each frame before the
next one is sent.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			cfg.Log.ConfigureZerolog()
			a.cfg = cfg

			log.Debug().
				Str("config_file", a.v.ConfigFileUsed()).
				Str("log_level", cfg.Log.Level).
				Msg("Configuration loaded")
			return nil
		},
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./monostream.yaml or $HOME/.monostream/monostream.yaml)")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.Bool("debug", false, "enable debug logging")
	flags.Int("width", 128, "display width in pixels")
	flags.Int("height", 64, "display height in pixels")
	flags.String("dither", "floyd", "dithering algorithm (see 'monostream algorithms')")
	flags.Float64("threshold", 50, "cutoff percentage of the threshold algorithm")
	flags.String("line-direction", "vertical", "stripe direction of the line algorithm: vertical or horizontal")

	a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	a.v.BindPFlag("log.debug", flags.Lookup("debug"))
	a.v.BindPFlag("display.width", flags.Lookup("width"))
	a.v.BindPFlag("display.height", flags.Lookup("height"))
	a.v.BindPFlag("stream.dither", flags.Lookup("dither"))
	a.v.BindPFlag("stream.threshold", flags.Lookup("threshold"))
	a.v.BindPFlag("stream.line_direction", flags.Lookup("line-direction"))

	root.AddCommand(
		newStreamCmd(a),
		newDitherCmd(a),
		newAlgorithmsCmd(),
		newPortsCmd(),
	)
	return root
}
