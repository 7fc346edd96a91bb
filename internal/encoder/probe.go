package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/loqalabs/textreel/internal/media"
)

// FFprobe reports stream facts for background media.
type FFprobe struct {
	cmd    []string
	runner Runner
}

func NewFFprobe(command string, runner Runner) (*FFprobe, error) {
	args, err := parseCommand(command)
	if err != nil {
		return nil, err
	}
	return &FFprobe{cmd: args, runner: runner}, nil
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p *FFprobe) Probe(ctx context.Context, path string) (media.StreamInfo, error) {
	args := append(append([]string{}, p.cmd[1:]...),
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type,width,height,duration",
		"-of", "json",
		path,
	)
	out, err := p.runner.Run(ctx, p.cmd[0], args...)
	if err != nil {
		return media.StreamInfo{}, err
	}
	return parseProbe([]byte(out))
}

func parseProbe(data []byte) (media.StreamInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return media.StreamInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	var info media.StreamInfo
	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.HasVideo = true
		info.Width = s.Width
		info.Height = s.Height
		info.Duration = parseSeconds(s.Duration)
		break
	}
	// The container duration covers audio too, so it only stands in when the
	// video stream reports none.
	if info.Duration == 0 {
		info.Duration = parseSeconds(out.Format.Duration)
	}
	return info, nil
}

func parseSeconds(s string) float64 {
	if s == "" || s == "N/A" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
