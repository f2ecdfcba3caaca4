package synthesis

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"
)

var (
	ErrEmptyAudio     = errors.New("audio payload is empty")
	ErrMisalignedPCM  = errors.New("pcm payload is not aligned to whole samples")
	ErrFFmpegNotFound = errors.New("ffmpeg not found")
)

// Encoded is a finished audio file held in memory
type Encoded struct {
	Data      []byte
	Extension string
	Duration  float64 // seconds, two decimals
}

// Transcoder turns raw 24 kHz mono s16le PCM into a file format clients can play.
type Transcoder interface {
	Transcode(ctx context.Context, pcm []byte) (*Encoded, error)
}

// NewTranscoder returns the transcoder named by kind ("ffmpeg" or "wav").
func NewTranscoder(kind, ffmpegPath string) (Transcoder, error) {
	switch strings.ToLower(kind) {
	case "", "ffmpeg", "mp3":
		return NewFFmpegTranscoder(ffmpegPath), nil
	case "wav":
		return WAVTranscoder{}, nil
	default:
		return nil, fmt.Errorf("unknown transcoder %q", kind)
	}
}

// PCMDuration returns the playback length of pcm in seconds rounded to two decimals
func PCMDuration(pcm []byte) float64 {
	samples := len(pcm) / (bytesPerSample * Channels)
	seconds := float64(samples) / float64(SampleRate)
	return math.Round(seconds*100) / 100
}

func checkPCM(pcm []byte) error {
	if len(pcm) == 0 {
		return ErrEmptyAudio
	}
	if len(pcm)%(bytesPerSample*Channels) != 0 {
		return fmt.Errorf("%w: %d bytes", ErrMisalignedPCM, len(pcm))
	}
	if PCMDuration(pcm) <= 0 {
		return fmt.Errorf("%w: duration rounds to zero", ErrEmptyAudio)
	}
	return nil
}

// WAVTranscoder wraps the PCM in a RIFF header. It needs no external tools.
type WAVTranscoder struct{}

func (WAVTranscoder) Transcode(_ context.Context, pcm []byte) (*Encoded, error) {
	if err := checkPCM(pcm); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	byteRate := SampleRate * Channels * bytesPerSample
	blockAlign := Channels * bytesPerSample

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(BitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return &Encoded{
		Data:      buf.Bytes(),
		Extension: "wav",
		Duration:  PCMDuration(pcm),
	}, nil
}

// FFmpegTranscoder pipes the PCM through ffmpeg and returns MP3.
type FFmpegTranscoder struct {
	path    string
	bitRate string
}

// NewFFmpegTranscoder creates a transcoder running the binary at path
func NewFFmpegTranscoder(path string) *FFmpegTranscoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegTranscoder{path: path, bitRate: "128k"}
}

func (t *FFmpegTranscoder) args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", fmt.Sprintf("%d", Channels),
		"-i", "pipe:0",
		"-acodec", "libmp3lame",
		"-b:a", t.bitRate,
		"-f", "mp3",
		"pipe:1",
	}
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, pcm []byte) (*Encoded, error) {
	if err := checkPCM(pcm); err != nil {
		return nil, err
	}

	//nolint:gosec // the binary path comes from configuration
	cmd := exec.CommandContext(ctx, t.path, t.args()...)
	cmd.Stdin = bytes.NewReader(pcm)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg interrupted: %w", ctx.Err())
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return nil, ErrFFmpegNotFound
		}
		return nil, fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no output", ErrEmptyAudio)
	}

	return &Encoded{
		Data:      stdout.Bytes(),
		Extension: "mp3",
		Duration:  PCMDuration(pcm),
	}, nil
}

// CheckFFmpeg verifies the configured binary can be started
func (t *FFmpegTranscoder) CheckFFmpeg(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, t.path, "-version")
	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return ErrFFmpegNotFound
		}
		return fmt.Errorf("ffmpeg check failed: %w", err)
	}
	return nil
}
