package archive

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// FFmpegConcat joins files with the ffmpeg concat demuxer and stream copy.
type FFmpegConcat struct {
	Binary string
	Env    []string
}

// Concat writes the inputs, in order, to output. The container is chosen from
// the first input's extension since output usually carries a temporary suffix.
func (c FFmpegConcat) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("concat: no inputs")
	}
	bin := c.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	list, err := writeConcatList(filepath.Dir(output), inputs)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(list) }()

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "concat", "-safe", "0", "-i", list, "-c", "copy"}
	args = append(args, muxerFor(inputs[0])...)
	args = append(args, "-y", output)

	// #nosec G204
	cmd := exec.CommandContext(ctx, bin, args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg concat: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func muxerFor(path string) []string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts":
		return []string{"-f", "mpegts"}
	case ".flv":
		return []string{"-f", "flv"}
	case ".mkv":
		return []string{"-f", "matroska"}
	default:
		return []string{"-movflags", "+faststart", "-f", "mp4"}
	}
}

// writeConcatList writes a hidden concat demuxer list next to the output.
func writeConcatList(dir string, inputs []string) (string, error) {
	f, err := os.CreateTemp(dir, ".concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("concat list: %w", err)
	}
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			abs = in
		}
		b.WriteString("file '" + strings.ReplaceAll(abs, "'", `'\''`) + "'\n")
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("concat list: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("concat list: %w", err)
	}
	return f.Name(), nil
}
