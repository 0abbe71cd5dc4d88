package main

import (
	"context"
	"fmt"
	"image/png"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flavioheleno/monostream/dither"
	"github.com/flavioheleno/monostream/image1bit"
	"github.com/flavioheleno/monostream/source"
)

func newDitherCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dither <input> <output.png>",
		Short: "Render a single image the way the display would show it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ditherFile(cmd.Context(), a, args[0], args[1])
		},
	}
}

func ditherFile(ctx context.Context, a *app, in, out string) error {
	src, err := source.NewImages(in)
	if err != nil {
		return err
	}
	defer src.Close()

	img, err := src.Next(ctx)
	if err != nil {
		return err
	}

	frame := source.Fit(img, a.cfg.Display.Width, a.cfg.Display.Height)
	frame, used := dither.Apply(frame, dither.Key(a.cfg.Stream.Dither), a.cfg.DitherParams())
	if string(used) != a.cfg.Stream.Dither {
		log.Warn().
			Str("algorithm", a.cfg.Stream.Dither).
			Str("fallback", string(used)).
			Msg("Unknown dithering algorithm")
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := png.Encode(f, image1bit.Pack(frame)); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	log.Info().
		Str("input", in).
		Str("output", out).
		Str("algorithm", string(used)).
		Msg("Frame rendered")
	return nil
}
