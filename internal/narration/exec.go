package narration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

type execBackend struct {
	cmd        []string
	voice      string
	sampleRate int
	channels   int
}

type execRequest struct {
	Text       string `json:"text"`
	Language   string `json:"language"`
	Voice      string `json:"voice,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

func newExecBackend(command, voice string, sampleRate, channels int) (*execBackend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse narration command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("narration command empty")
	}
	return &execBackend{cmd: args, voice: voice, sampleRate: sampleRate, channels: channels}, nil
}

// pcm runs the engine once and concatenates every chunk it streams back.
func (e *execBackend) pcm(ctx context.Context, req Request) ([]byte, error) {
	data, err := json.Marshal(execRequest{
		Text:       req.Text,
		Language:   req.Language,
		Voice:      e.voice,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// Orphaned grandchildren must not hold Wait open on their inherited pipes.
	cmd.WaitDelay = time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start narration command: %w", err)
	}

	abort := func(err error) ([]byte, error) {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	var pcm []byte
	final := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return abort(fmt.Errorf("decode narration chunk: %w", err))
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			return abort(fmt.Errorf("decode narration pcm: %w", err))
		}
		pcm = append(pcm, chunk...)
		if resp.Final {
			final = true
		}
	}
	if err := scanner.Err(); err != nil {
		return abort(fmt.Errorf("read narration output: %w", err))
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("narration command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if !final {
		return nil, fmt.Errorf("narration command exited without a final chunk")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	return pcm, nil
}
