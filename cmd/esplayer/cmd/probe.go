package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/esplayer/internal/codec"
	"github.com/jmylchreest/esplayer/internal/ingest"
	"github.com/jmylchreest/esplayer/internal/player"
)

var probeJSON bool

var probeCmd = &cobra.Command{
	Use:   "probe <file.ts|url>",
	Short: "List the programs and streams of a transport stream",
	Long: `Probe reads a transport stream file and lists its programs, the
elementary streams of each program and their first presentation
timestamp. It then prints the metadata the player would be loaded with.
HLS playlists skip the program listing and report the selected
renditions only.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "output the probe result as JSON")
	rootCmd.AddCommand(probeCmd)
}

// probeOutput is the JSON form of the probe command.
type probeOutput struct {
	*ingest.ProbeResult
	Metadata *player.Metadata `json:"metadata,omitempty"`
	Tracks   []ingest.Track   `json:"tracks,omitempty"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	fetch := ingest.DefaultFetchConfig()
	if cfg, err := loadConfig(); err == nil {
		fetch = fetchConfig(cfg)
	}

	out := probeOutput{ProbeResult: &ingest.ProbeResult{}}
	if !ingest.IsHLS(path) {
		f, err := ingest.Open(ctx, path, fetch)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		res, err := ingest.Probe(ctx, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("probing %s: %w", path, err)
		}
		out.ProbeResult = res
	}

	if meta, tracks, err := probeMetadata(ctx, path, fetch); err != nil {
		slog.Warn("no playable tracks", slog.String("file", path), slog.String("error", err.Error()))
	} else {
		out.Metadata, out.Tracks = &meta, tracks
	}

	w := cmd.OutOrStdout()
	if probeJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printProbe(w, out)
	return nil
}

func probeMetadata(ctx context.Context, path string, fetch ingest.FetchConfig) (player.Metadata, []ingest.Track, error) {
	src, err := ingest.OpenSource(ctx, path, fetch)
	if err != nil {
		return player.Metadata{}, nil, err
	}
	defer src.Close()

	meta, err := src.Metadata()
	if err != nil {
		return player.Metadata{}, nil, err
	}
	return meta, src.Tracks(), nil
}

func printProbe(w io.Writer, out probeOutput) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROGRAM\tPID\tTYPE\tKIND\tCODEC\tFIRST PTS")
	for _, prog := range out.Programs {
		for _, s := range prog.Streams {
			pts := "-"
			if s.FirstPTS != ingest.NoPTS {
				pts = fmt.Sprintf("%d", s.FirstPTS)
			}
			fmt.Fprintf(tw, "%d\t%d\t0x%02x\t%s\t%s\t%s\n",
				prog.Number, s.PID, s.StreamType, s.Kind, s.Codec, pts)
		}
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d PES packets read\n", out.Packets)

	m := out.Metadata
	if m == nil {
		return
	}
	fmt.Fprintln(w)
	if m.VideoCodec != codec.VideoNone {
		fmt.Fprintf(w, "video: %s %dx%d", m.VideoCodec, m.Width, m.Height)
		if len(m.Extradata) > 0 {
			fmt.Fprintf(w, " (%d bytes extradata)", len(m.Extradata))
		}
		fmt.Fprintln(w)
	}
	if m.AudioCodec != codec.AudioNone {
		fmt.Fprintf(w, "audio: %s %d Hz, %d channels\n", m.AudioCodec, m.SampleRate, m.Channels)
	}
}
