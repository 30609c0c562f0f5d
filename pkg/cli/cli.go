package cli

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zurustar/smfplay/pkg/engine"
)

// Config はコマンドライン引数から解析された設定を保持する
type Config struct {
	Paths     []string          // 再生するファイルまたはディレクトリ
	Timeout   time.Duration     // タイムアウト時間（0は無制限）
	LogLevel  string            // ログレベル（debug, info, warn, error）
	LogFile   string            // ログ出力先（空ならTUI使用時はsmfplay.log）
	Headless  bool              // ヘッドレスモード（音声出力なし）
	NoTUI     bool              // TUIを使わずにログだけを出す
	SoundFont string            // SoundFontファイルのパス
	Output    string            // 出力先（null, synth, port:<名前>）
	Repeat    engine.RepeatMode // リピートモード
	Shuffle   bool              // シャッフル再生
	Speed     float64           // 再生速度
	Gain      float64           // シンセサイザーの音量（倍率）
	Polyphony int               // シンセサイザーの最大同時発音数（0はデフォルト）
	ShowHelp  bool              // ヘルプ表示フラグ
}

// boolFlags は値を取らないフラグ
var boolFlags = map[string]bool{
	"h":        true,
	"help":     true,
	"headless": true,
	"no-tui":   true,
	"shuffle":  true,
	"s":        true,
}

// ParseArgs コマンドライン引数を解析してConfigを返す
func ParseArgs(args []string) (*Config, error) {
	// 引数を並べ替え：フラグを前に、位置引数を後ろに
	reorderedArgs := reorderArgs(args)

	fs := flag.NewFlagSet("smfplay", flag.ContinueOnError)

	config := &Config{}

	var timeoutSec int
	var repeat string
	fs.IntVar(&timeoutSec, "timeout", 0, "タイムアウト時間（秒）")
	fs.IntVar(&timeoutSec, "t", 0, "タイムアウト時間（秒）（短縮形）")
	fs.StringVar(&config.LogLevel, "log-level", "info", "ログレベル（debug, info, warn, error）")
	fs.StringVar(&config.LogLevel, "l", "info", "ログレベル（短縮形）")
	fs.StringVar(&config.LogFile, "log-file", "", "ログファイル")
	fs.BoolVar(&config.Headless, "headless", false, "ヘッドレスモード")
	fs.BoolVar(&config.NoTUI, "no-tui", false, "TUIを無効化")
	fs.StringVar(&config.SoundFont, "soundfont", "", "SoundFontファイル")
	fs.StringVar(&config.Output, "output", "", "出力先")
	fs.StringVar(&config.Output, "o", "", "出力先（短縮形）")
	fs.StringVar(&repeat, "repeat", "off", "リピートモード（off, all, single）")
	fs.StringVar(&repeat, "r", "off", "リピートモード（短縮形）")
	fs.BoolVar(&config.Shuffle, "shuffle", false, "シャッフル再生")
	fs.BoolVar(&config.Shuffle, "s", false, "シャッフル再生（短縮形）")
	fs.Float64Var(&config.Speed, "speed", 1, "再生速度")
	fs.Float64Var(&config.Gain, "gain", 1, "シンセサイザーの音量")
	fs.IntVar(&config.Polyphony, "polyphony", 0, "シンセサイザーの最大同時発音数")
	fs.BoolVar(&config.ShowHelp, "help", false, "ヘルプを表示")
	fs.BoolVar(&config.ShowHelp, "h", false, "ヘルプを表示（短縮形）")

	if err := fs.Parse(reorderedArgs); err != nil {
		return nil, err
	}

	// 環境変数からの設定（コマンドラインフラグが優先）
	if !config.Headless {
		if headlessEnv := os.Getenv("HEADLESS"); headlessEnv != "" {
			config.Headless = headlessEnv == "1" || strings.ToLower(headlessEnv) == "true"
		}
	}

	// 環境変数からタイムアウトを取得（コマンドラインフラグが優先）
	if timeoutSec == 0 {
		if timeoutEnv := os.Getenv("TIMEOUT"); timeoutEnv != "" {
			if t, err := strconv.Atoi(timeoutEnv); err == nil && t > 0 {
				timeoutSec = t
			}
		}
	}

	// 環境変数からログレベルを取得（コマンドラインフラグが優先）
	if config.LogLevel == "info" {
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			config.LogLevel = strings.ToLower(logLevelEnv)
		}
	}

	if config.SoundFont == "" {
		config.SoundFont = os.Getenv("SOUNDFONT")
	}
	if config.Output == "" {
		config.Output = os.Getenv("MIDI_OUTPUT")
	}

	// タイムアウトの検証
	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout must be non-negative, got %d", timeoutSec)
	}
	config.Timeout = time.Duration(timeoutSec) * time.Second

	// ログレベルの検証
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.LogLevel)
	}

	mode, err := engine.ParseRepeatMode(repeat)
	if err != nil {
		return nil, err
	}
	config.Repeat = mode

	if config.Speed <= 0 {
		return nil, fmt.Errorf("speed must be positive, got %g", config.Speed)
	}
	if config.Gain < 0 {
		return nil, fmt.Errorf("gain must be non-negative, got %g", config.Gain)
	}
	if config.Polyphony < 0 {
		return nil, fmt.Errorf("polyphony must be non-negative, got %d", config.Polyphony)
	}

	// 位置引数（ファイルまたはディレクトリ）
	config.Paths = fs.Args()

	return config, nil
}

// reorderArgs 引数を並べ替えて、フラグを前に、位置引数を後ろに配置する
func reorderArgs(args []string) []string {
	var flags []string
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		// フラグかどうかを判定（-または--で始まる）
		if len(arg) > 0 && arg[0] == '-' {
			flags = append(flags, arg)

			// --name=value 形式と値を取らないフラグはそのまま
			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") || boolFlags[name] {
				continue
			}

			// 次の引数を値として取り込む（-t 5, --speed -1 のような場合）
			if i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			// 位置引数
			positional = append(positional, arg)
		}
	}

	// フラグを前に、位置引数を後ろに配置
	return append(flags, positional...)
}

// PrintHelp ヘルプメッセージを表示
func PrintHelp() {
	fmt.Fprintf(os.Stdout, `smfplay - Standard MIDI File / XMI player

Usage:
  smfplay [options] <file-or-directory>...

Arguments:
  file-or-directory   再生するMIDIファイル（.mid, .smf, .rmi, .xmi）またはディレクトリ
                      ディレクトリを指定した場合、MIDIファイルを再帰的に検索

Options:
  -t, --timeout <seconds>     指定秒数後にプログラムを終了（デフォルト: 無制限）
  -l, --log-level <level>     ログレベル: debug, info, warn, error（デフォルト: info）
  --log-file <path>           ログの出力先（TUI使用時のデフォルト: smfplay.log）
  --headless                  ヘッドレスモード（音声出力なし）
  --no-tui                    TUIを使わずに再生
  --soundfont <path>          SoundFontファイル（デフォルト: GeneralUser-GS.sf2 を検索）
  -o, --output <id>           出力先: null, synth, port:<名前>（デフォルト: synth）
  -r, --repeat <mode>         リピート: off, all, single（デフォルト: off）
  -s, --shuffle               シャッフル再生
  --speed <factor>            再生速度（デフォルト: 1.0）
  --gain <factor>             シンセサイザーの音量（デフォルト: 1.0）
  --polyphony <voices>        シンセサイザーの最大同時発音数（デフォルト: 64）
  -h, --help                  このヘルプを表示

Environment Variables:
  HEADLESS=1                  ヘッドレスモードを有効化
  TIMEOUT=<seconds>           タイムアウト時間（秒）
  LOG_LEVEL=<level>           ログレベル
  SOUNDFONT=<path>            SoundFontファイル
  MIDI_OUTPUT=<id>            出力先

Examples:
  smfplay song.mid                    ファイルを再生
  smfplay -r all -s ~/music/midi      ディレクトリをシャッフルで繰り返し再生
  smfplay -o "port:Microsoft GS Wavetable Synth" song.mid
  smfplay --no-tui --timeout 30 a.mid 30秒後に自動終了
  HEADLESS=1 smfplay --no-tui a.xmi   音声出力なしで実行
`)
}
