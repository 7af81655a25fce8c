package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/asticode/go-astits"

	"github.com/jmylchreest/esplayer/internal/codec"
)

// NoPTS marks a stream whose first timestamp was not seen.
const NoPTS int64 = -1

// ProbeStream is one elementary stream listed in a PMT.
type ProbeStream struct {
	PID        uint16 `json:"pid"`
	StreamType uint8  `json:"stream_type"`
	Kind       string `json:"kind"`
	Codec      string `json:"codec"`
	FirstPTS   int64  `json:"first_pts"`
}

// ProbeProgram is one program of the transport stream.
type ProbeProgram struct {
	Number  uint16        `json:"number"`
	PMTPID  uint16        `json:"pmt_pid"`
	PCRPID  uint16        `json:"pcr_pid"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeResult describes a transport stream.
type ProbeResult struct {
	Programs []ProbeProgram `json:"programs"`
	Packets  int            `json:"pes_packets"`
}

// Probe lists the programs and elementary streams of the transport stream
// in r with the first PTS of each stream. It stops once every stream has a
// timestamp or the input ends.
func Probe(ctx context.Context, r io.Reader) (*ProbeResult, error) {
	dmx := astits.NewDemuxer(ctx, r)

	pmtPIDs := make(map[uint16]uint16) // pmt pid -> program number
	programs := make(map[uint16]*ProbeProgram)
	firstPTS := make(map[uint16]int64)
	res := &ProbeResult{}

	for {
		d, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("demuxing transport stream: %w", err)
		}

		switch {
		case d.PAT != nil:
			for _, p := range d.PAT.Programs {
				if p.ProgramNumber != 0 {
					pmtPIDs[p.ProgramMapID] = p.ProgramNumber
				}
			}

		case d.PMT != nil:
			prog := &ProbeProgram{
				Number: d.PMT.ProgramNumber,
				PMTPID: d.PID,
				PCRPID: d.PMT.PCRPID,
			}
			for _, es := range d.PMT.ElementaryStreams {
				st := uint8(es.StreamType)
				kind, name := describeStreamType(st)
				prog.Streams = append(prog.Streams, ProbeStream{
					PID:        es.ElementaryPID,
					StreamType: st,
					Kind:       kind,
					Codec:      name,
					FirstPTS:   NoPTS,
				})
			}
			programs[prog.Number] = prog

		case d.PES != nil:
			res.Packets++
			if _, seen := firstPTS[d.PID]; seen {
				break
			}
			if oh := d.PES.Header.OptionalHeader; oh != nil && oh.PTS != nil {
				firstPTS[d.PID] = oh.PTS.Base
			}
		}

		if len(programs) > 0 && len(programs) >= len(pmtPIDs) && allTimed(programs, firstPTS) {
			break
		}
	}

	if len(programs) == 0 {
		return nil, ErrNoTracks
	}

	for _, prog := range programs {
		for i := range prog.Streams {
			if pts, ok := firstPTS[prog.Streams[i].PID]; ok {
				prog.Streams[i].FirstPTS = pts
			}
		}
		res.Programs = append(res.Programs, *prog)
	}
	sort.Slice(res.Programs, func(i, j int) bool {
		return res.Programs[i].Number < res.Programs[j].Number
	})
	return res, nil
}

func allTimed(programs map[uint16]*ProbeProgram, firstPTS map[uint16]int64) bool {
	for _, prog := range programs {
		for _, s := range prog.Streams {
			if _, ok := firstPTS[s.PID]; !ok {
				return false
			}
		}
	}
	return true
}

func describeStreamType(st uint8) (kind, name string) {
	if v, ok := codec.VideoFromStreamType(st); ok {
		return "video", v.String()
	}
	if a, ok := codec.AudioFromStreamType(st); ok {
		return "audio", a.String()
	}
	return "other", fmt.Sprintf("0x%02x", st)
}
