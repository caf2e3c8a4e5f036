package flags

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var (
	_ pflag.Value = (*NoiseLevel)(nil)
	_ pflag.Value = (*ByteSize)(nil)

	_ yaml.Unmarshaler = (*NoiseLevel)(nil)
	_ yaml.Unmarshaler = (*ByteSize)(nil)

	errInvalidValue = errors.New("invalid value")
)

// NoiseLevel is the CLI's verbosity control, mapped onto a slog.Level for
// the logging handler. Unlike a plain log level, Silent suppresses all
// output (including errors normally surfaced regardless of level) and
// Noisy/Debug split what would otherwise be a single "verbose" tier.
type NoiseLevel struct {
	Raw   string
	Value slog.Level
}

func (f *NoiseLevel) String() string {
	return f.Raw
}

func (f *NoiseLevel) Set(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))

	switch s {
	case "silent":
		f.Value = slog.LevelError + 4
	case "quiet":
		f.Value = slog.LevelWarn
	case "normal":
		f.Value = slog.LevelInfo
	case "noisy":
		f.Value = slog.LevelDebug
	case "debug":
		f.Value = slog.LevelDebug - 4
	default:
		return fmt.Errorf("%w: %q is not recognized", errInvalidValue, s)
	}

	f.Raw = s

	return nil
}

func (f *NoiseLevel) Type() string {
	return "noise"
}

func (f *NoiseLevel) UnmarshalYAML(node *yaml.Node) error {
	return f.Set(node.Value)
}

// ByteSize is a pflag.Value/yaml.Unmarshaler for human-readable byte
// quantities ("16MiB", "512KB", "1048576"), used by the --memory-limit
// flag. Suffixes are case-insensitive: K/M/G/T and KiB/MiB/GiB/TiB are
// binary (powers of 1024), KB/MB/GB/TB are decimal (powers of 1000), and B
// is bytes; a bare number is taken as a literal byte count.
type ByteSize struct {
	Raw   string
	Value int64
}

var byteSuffixes = []struct {
	suffix string
	factor int64
}{
	{"kib", 1 << 10},
	{"mib", 1 << 20},
	{"gib", 1 << 30},
	{"tib", 1 << 40},
	{"kb", 1_000},
	{"mb", 1_000_000},
	{"gb", 1_000_000_000},
	{"tb", 1_000_000_000_000},
	{"k", 1 << 10},
	{"m", 1 << 20},
	{"g", 1 << 30},
	{"t", 1 << 40},
	{"b", 1},
}

func (f *ByteSize) String() string {
	return f.Raw
}

func (f *ByteSize) Set(s string) error {
	raw := s
	s = strings.ToLower(strings.TrimSpace(s))

	if s == "" {
		f.Value = 0
		f.Raw = raw

		return nil
	}

	for _, bs := range byteSuffixes {
		if num, ok := strings.CutSuffix(s, bs.suffix); ok {
			num = strings.TrimSpace(num)

			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return fmt.Errorf("failed to parse byte size: %w", err)
			}

			f.Value = int64(val * float64(bs.factor))
			f.Raw = raw

			return nil
		}
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse byte size: %w", err)
	}

	f.Value = val
	f.Raw = raw

	return nil
}

func (f *ByteSize) Type() string {
	return "bytesize"
}

func (f *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	return f.Set(node.Value)
}
