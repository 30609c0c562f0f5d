package cli

import (
	"slices"
	"testing"
	"time"

	"github.com/zurustar/smfplay/pkg/engine"
)

func TestParseArgs_ValidArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected Config
	}{
		{
			name: "デフォルト設定",
			args: []string{},
			expected: Config{
				LogLevel: "info",
				Speed:    1,
			},
		},
		{
			name: "ファイル指定",
			args: []string{"song.mid"},
			expected: Config{
				Paths:    []string{"song.mid"},
				LogLevel: "info",
				Speed:    1,
			},
		},
		{
			name: "複数ファイル指定",
			args: []string{"a.mid", "music", "b.xmi"},
			expected: Config{
				Paths:    []string{"a.mid", "music", "b.xmi"},
				LogLevel: "info",
				Speed:    1,
			},
		},
		{
			name: "タイムアウト指定",
			args: []string{"--timeout", "10"},
			expected: Config{
				Timeout:  10 * time.Second,
				LogLevel: "info",
				Speed:    1,
			},
		},
		{
			name: "タイムアウト指定（短縮形）",
			args: []string{"-t", "5"},
			expected: Config{
				Timeout:  5 * time.Second,
				LogLevel: "info",
				Speed:    1,
			},
		},
		{
			name: "ログレベル指定（短縮形）",
			args: []string{"-l", "error"},
			expected: Config{
				LogLevel: "error",
				Speed:    1,
			},
		},
		{
			name: "ヘッドレスモード",
			args: []string{"--headless", "a.mid"},
			expected: Config{
				Paths:    []string{"a.mid"},
				LogLevel: "info",
				Headless: true,
				Speed:    1,
			},
		},
		{
			name: "ヘルプ表示（短縮形）",
			args: []string{"-h"},
			expected: Config{
				LogLevel: "info",
				Speed:    1,
				ShowHelp: true,
			},
		},
		{
			name: "再生オプション",
			args: []string{"-r", "all", "--shuffle", "music", "--speed", "1.5", "-o", "port:Synth A"},
			expected: Config{
				Paths:    []string{"music"},
				LogLevel: "info",
				Output:   "port:Synth A",
				Repeat:   engine.RepeatAll,
				Shuffle:  true,
				Speed:    1.5,
			},
		},
		{
			name: "イコール形式",
			args: []string{"--repeat=single", "--soundfont=/sf/gm.sf2", "a.mid", "--no-tui"},
			expected: Config{
				Paths:     []string{"a.mid"},
				LogLevel:  "info",
				NoTUI:     true,
				SoundFont: "/sf/gm.sf2",
				Repeat:    engine.RepeatSingle,
				Speed:     1,
			},
		},
		{
			name: "位置引数の後にフラグ（順序に関係なく動作）",
			args: []string{"-log-level", "debug", "./samples", "--log-file", "play.log", "--timeout", "5"},
			expected: Config{
				Paths:    []string{"./samples"},
				Timeout:  5 * time.Second,
				LogLevel: "debug",
				LogFile:  "play.log",
				Speed:    1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, env := range []string{"HEADLESS", "TIMEOUT", "LOG_LEVEL", "SOUNDFONT", "MIDI_OUTPUT"} {
				t.Setenv(env, "")
			}

			config, err := ParseArgs(tt.args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !slices.Equal(config.Paths, tt.expected.Paths) {
				t.Errorf("Paths = %q, want %q", config.Paths, tt.expected.Paths)
			}
			if config.Timeout != tt.expected.Timeout {
				t.Errorf("Timeout = %v, want %v", config.Timeout, tt.expected.Timeout)
			}
			if config.LogLevel != tt.expected.LogLevel {
				t.Errorf("LogLevel = %q, want %q", config.LogLevel, tt.expected.LogLevel)
			}
			if config.LogFile != tt.expected.LogFile {
				t.Errorf("LogFile = %q, want %q", config.LogFile, tt.expected.LogFile)
			}
			if config.Headless != tt.expected.Headless {
				t.Errorf("Headless = %v, want %v", config.Headless, tt.expected.Headless)
			}
			if config.NoTUI != tt.expected.NoTUI {
				t.Errorf("NoTUI = %v, want %v", config.NoTUI, tt.expected.NoTUI)
			}
			if config.SoundFont != tt.expected.SoundFont {
				t.Errorf("SoundFont = %q, want %q", config.SoundFont, tt.expected.SoundFont)
			}
			if config.Output != tt.expected.Output {
				t.Errorf("Output = %q, want %q", config.Output, tt.expected.Output)
			}
			if config.Repeat != tt.expected.Repeat {
				t.Errorf("Repeat = %v, want %v", config.Repeat, tt.expected.Repeat)
			}
			if config.Shuffle != tt.expected.Shuffle {
				t.Errorf("Shuffle = %v, want %v", config.Shuffle, tt.expected.Shuffle)
			}
			if config.Speed != tt.expected.Speed {
				t.Errorf("Speed = %v, want %v", config.Speed, tt.expected.Speed)
			}
			if config.ShowHelp != tt.expected.ShowHelp {
				t.Errorf("ShowHelp = %v, want %v", config.ShowHelp, tt.expected.ShowHelp)
			}
		})
	}
}

func TestParseArgs_Environment(t *testing.T) {
	t.Setenv("HEADLESS", "true")
	t.Setenv("TIMEOUT", "7")
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("SOUNDFONT", "/env/gm.sf2")
	t.Setenv("MIDI_OUTPUT", "null")

	config, err := ParseArgs([]string{"a.mid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !config.Headless || config.Timeout != 7*time.Second || config.LogLevel != "warn" {
		t.Errorf("env not applied: %+v", config)
	}
	if config.SoundFont != "/env/gm.sf2" || config.Output != "null" {
		t.Errorf("env not applied: %+v", config)
	}

	// コマンドラインフラグが優先
	config, err = ParseArgs([]string{"-o", "synth", "--soundfont", "x.sf2", "a.mid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Output != "synth" || config.SoundFont != "x.sf2" {
		t.Errorf("flags did not override env: %+v", config)
	}
}

func TestParseArgs_SynthOptions(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	config, err := ParseArgs([]string{"a.mid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Gain != 1 || config.Polyphony != 0 {
		t.Errorf("defaults: Gain = %v, Polyphony = %d", config.Gain, config.Polyphony)
	}

	config, err = ParseArgs([]string{"a.mid", "--gain", "0.5", "--polyphony=32"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.Gain != 0.5 || config.Polyphony != 32 {
		t.Errorf("Gain = %v, Polyphony = %d", config.Gain, config.Polyphony)
	}
}

func TestParseArgs_InvalidArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{
			name: "負のタイムアウト",
			args: []string{"--timeout", "-10"},
		},
		{
			name: "無効なログレベル",
			args: []string{"--log-level", "invalid"},
		},
		{
			name: "無効なリピートモード",
			args: []string{"--repeat", "twice"},
		},
		{
			name: "負の速度",
			args: []string{"--speed", "-1"},
		},
		{
			name: "負の音量",
			args: []string{"--gain", "-0.5"},
		},
		{
			name: "負の同時発音数",
			args: []string{"--polyphony", "-8"},
		},
		{
			name: "未定義のフラグ",
			args: []string{"--volume", "3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", "")
			_, err := ParseArgs(tt.args)
			if err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestReorderArgs(t *testing.T) {
	got := reorderArgs([]string{"a.mid", "-s", "b.mid", "--speed", "2", "--no-tui=true"})
	want := []string{"-s", "--speed", "2", "--no-tui=true", "a.mid", "b.mid"}
	if !slices.Equal(got, want) {
		t.Errorf("reorderArgs = %q, want %q", got, want)
	}
}
