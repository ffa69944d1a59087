// Command mfmparse converts a flux or bitcell capture into the canonical
// bundle container (or any other registered container format, selected
// by the output file's extension). Built with cobra exactly as the
// teacher's cmd/root.go structures its root command, reduced to a single
// Use/Run pair: this tool has no live-hardware surface, so none of the
// teacher's read/write/erase/status subcommands apply.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sergev/mfmdisk/analyser"
	"github.com/sergev/mfmdisk/config"
	"github.com/sergev/mfmdisk/container"
	"github.com/sergev/mfmdisk/container/adf"
	"github.com/sergev/mfmdisk/container/bundle"
	"github.com/sergev/mfmdisk/container/img"
	"github.com/sergev/mfmdisk/container/rawmfm"
	"github.com/sergev/mfmdisk/disk"
	_ "github.com/sergev/mfmdisk/format/amiga"
	_ "github.com/sergev/mfmdisk/format/ibmpc"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/stream/diskread"
	"github.com/sergev/mfmdisk/stream/fluxscp"
	"github.com/sergev/mfmdisk/stream/hfeflux"
	"github.com/sergev/mfmdisk/stream/kryoflux"
)

// defaultRPM matches the reference's standard 300 RPM double-density
// drive. The stream does not time tracks from it: bit-image tracks use
// their own TrackData.DataRPM (300 when unset) and flux captures their
// own bitrate estimate.
const defaultRPM = 300

func openSource(path string) (stream.TrackSource, func() error, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening input: %w", err)
	}

	if info.IsDir() {
		src := kryoflux.Open(path, "track", 160)
		return src, src.Close, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".scp":
		src, err := fluxscp.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	case ".hfe":
		src, err := hfeflux.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	case ".dat":
		src, err := diskread.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	default:
		return nil, nil, fmt.Errorf("unrecognized input format: %s", path)
	}
}

func openContainer(path string) (container.Container, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dsk":
		return bundle.New(path), nil
	case ".adf":
		return adf.New(path), nil
	case ".img", ".ima":
		return img.New(path), nil
	case ".mfm":
		return rawmfm.New(path), nil
	default:
		return nil, fmt.Errorf("unrecognized output format: %s", path)
	}
}

func run(in, out string) error {
	driveRPM := uint(defaultRPM)
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "mfmparse: config: %v (using built-in defaults)\n", err)
	} else {
		driveRPM = uint(config.DriveRPM)
		analyser.Order = config.OrderedHandlerNames(registeredHandlerNames())
	}

	src, closeSrc, err := openSource(in)
	if err != nil {
		return err
	}
	if closeSrc != nil {
		defer closeSrc()
	}

	s := stream.Open(src, driveRPM, driveRPM)
	if config.PLLPeriodAdjPct != 0 {
		s.PLLPeriodAdjPct = config.PLLPeriodAdjPct
	}
	if config.PLLPhaseAdjPct != 0 {
		s.PLLPhaseAdjPct = config.PLLPhaseAdjPct
	}
	if config.PLLClockMaxAdjPct != 0 {
		s.ClockMaxAdjPct = config.PLLClockMaxAdjPct
	}

	dst, err := openContainer(out)
	if err != nil {
		return err
	}

	d := disk.New(src.NumTracks())
	for tracknr := 0; tracknr < d.NrTracks; tracknr++ {
		if err := s.SelectTrack(tracknr); err != nil {
			return fmt.Errorf("track %d: %w", tracknr, err)
		}
		// dst.WriteRaw, not analyser.WriteRaw directly: routing through
		// the container applies its own acceptance policy (e.g. ADF's
		// AmigaDOS-only check) at write time, not just at Close. A track
		// neither the analyser nor the container can resolve becomes an
		// Unformatted placeholder (spec §7's NoHandlerMatched), not an
		// error; an IncompatibleWrite is fatal and aborts the convert
		// here, per spec §7.
		if err := dst.WriteRaw(d, tracknr, "", s); err != nil {
			return fmt.Errorf("track %d: %w", tracknr, err)
		}
	}

	return dst.Close(d)
}

func registeredHandlerNames() []string {
	all := handler.All()
	names := make([]string, len(all))
	for i, h := range all {
		names[i] = h.Name()
	}
	return names
}

var rootCmd = &cobra.Command{
	Use:   "mfmparse <in> <out>",
	Short: "Convert a flux/bitcell capture into a disk container image",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := run(args[0], args[1]); err != nil {
			cobra.CheckErr(err)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
