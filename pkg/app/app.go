package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zurustar/smfplay/pkg/cli"
	"github.com/zurustar/smfplay/pkg/engine"
	"github.com/zurustar/smfplay/pkg/fileutil"
	"github.com/zurustar/smfplay/pkg/instrument"
	"github.com/zurustar/smfplay/pkg/logger"
	"github.com/zurustar/smfplay/pkg/playlist"
	"github.com/zurustar/smfplay/pkg/tui"
)

// ErrNoInput is returned when no file or directory was given.
var ErrNoInput = errors.New("no input files")

// DefaultLogFile はTUI使用時のログ出力先
const DefaultLogFile = "smfplay.log"

// idlePollInterval はTUIなしで再生終了を確認する間隔
const idlePollInterval = 200 * time.Millisecond

// Application はアプリケーションのメインロジックを管理する
type Application struct {
	config  *cli.Config
	log     *slog.Logger
	fsys    fileutil.FileSystem
	logFile *os.File
	host    *instrument.Host
	engine  *engine.Engine
	states  chan engine.State
}

// New Applicationを作成
func New() *Application {
	return &Application{
		fsys: fileutil.NewRealFS(""),
	}
}

// Run アプリケーションを実行
func (app *Application) Run(args []string) error {
	// 1. コマンドライン引数の解析
	if err := app.parseArgs(args); err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}

	if app.config.ShowHelp {
		cli.PrintHelp()
		return nil
	}
	if len(app.config.Paths) == 0 {
		cli.PrintHelp()
		return ErrNoInput
	}

	// 2. ロガーの初期化
	if err := app.initLogger(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer app.closeLogger()

	app.log.Info("Application started")

	// 3. プレイリストの作成
	list, err := app.buildPlaylist()
	if err != nil {
		return fmt.Errorf("failed to build playlist: %w", err)
	}

	app.log.Info("Playlist built", "songs", list.Len(), "shuffle", app.config.Shuffle)

	// 4. 出力先の準備
	if err := app.openInstrument(); err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	defer app.host.CloseOutput()

	app.log.Info("Output opened", "output", app.host.Current())

	// 5. エンジンの起動
	app.startEngine(list)
	defer app.engine.Shutdown()

	// 6. 再生（TUIまたはヘッドレス）
	if app.useTUI() {
		err = app.runTUI()
	} else {
		err = app.runPlain()
	}
	if err != nil {
		return err
	}

	app.log.Info("Application terminated normally")
	return nil
}

// parseArgs コマンドライン引数を解析
func (app *Application) parseArgs(args []string) error {
	config, err := cli.ParseArgs(args)
	if err != nil {
		return err
	}
	app.config = config
	return nil
}

func (app *Application) useTUI() bool {
	return !app.config.NoTUI
}

// initLogger ロガーを初期化
// TUI使用中は画面を崩さないようにログをファイルへ出力する
func (app *Application) initLogger() error {
	path := app.config.LogFile
	if path == "" && app.useTUI() {
		path = DefaultLogFile
	}

	if path == "" {
		if err := logger.InitLogger(app.config.LogLevel); err != nil {
			return err
		}
	} else {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		if err := logger.InitLoggerWithWriter(app.config.LogLevel, f); err != nil {
			f.Close()
			return err
		}
		app.logFile = f
	}
	app.log = logger.GetLogger()
	return nil
}

func (app *Application) closeLogger() {
	if app.logFile != nil {
		app.logFile.Close()
	}
}

// buildPlaylist 引数からプレイリストを作成
func (app *Application) buildPlaylist() (playlist.Playlist, error) {
	paths, err := playlist.FromArgs(app.fsys, app.config.Paths)
	if err != nil {
		return nil, err
	}
	if app.config.Shuffle {
		return playlist.NewShuffled(paths, time.Now().UnixNano()), nil
	}
	return playlist.NewLinear(paths), nil
}

// openInstrument 出力先を開く
// SoundFontが見つからない場合は synth を提供せず、ポートかnullで再生する
func (app *Application) openInstrument() error {
	cfg := instrument.Config{}

	if app.config.Headless {
		app.log.Info("Headless mode: software synthesizer disabled")
	} else if loc := findSoundFont(app.fsys, app.config.SoundFont, soundFontDirs(app.fsys, app.config.Paths)); loc != nil {
		newSynth, err := loadSoundFont(loc, synthOptions(app.config))
		if err != nil {
			if loc.Explicit {
				return err
			}
			app.log.Warn("Failed to load SoundFont", "path", loc.Path, "error", err)
		} else {
			app.log.Info("SoundFont loaded", "path", loc.Path)
			cfg.NewSynth = newSynth
		}
	} else {
		app.log.Warn("SoundFont not found, software synthesizer disabled", "name", DefaultSoundFontName)
	}

	app.host = instrument.NewHost(cfg)

	id := app.config.Output
	if id == "" {
		// 指定がなければ synth、なければ最初のポート、それもなければ null
		outputs := app.host.Outputs()
		id = instrument.NullID
		if len(outputs) > 1 {
			id = outputs[1]
		}
	}
	return app.host.OpenOutput(id)
}

// startEngine エンジンを起動して再生を開始
func (app *Application) startEngine(list playlist.Playlist) {
	app.states = make(chan engine.State, 1)
	app.engine = engine.New(engine.Options{
		Instrument: app.host,
		Playlist:   list,
		FileSystem: app.fsys,
		Repeat:     app.config.Repeat,
		Speed:      app.config.Speed,
		OnState:    app.publishState,
		OnFinished: func(path string) {
			app.log.Debug("Finished", "path", path)
		},
	})
	app.engine.Play()
}

// publishState 最新の状態だけを保持する（古い状態は捨てる）
func (app *Application) publishState(s engine.State) {
	select {
	case <-app.states:
	default:
	}
	select {
	case app.states <- s:
	default:
	}
}

// runTUI TUIで再生
func (app *Application) runTUI() error {
	p := tea.NewProgram(tui.NewModel(app.engine, app.states), tea.WithAltScreen())

	if app.config.Timeout > 0 {
		timer := time.AfterFunc(app.config.Timeout, func() {
			app.log.Info("Timeout reached, terminating")
			p.Quit()
		})
		defer timer.Stop()
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run terminal UI: %w", err)
	}
	return nil
}

// runPlain TUIなしで再生し、プレイリストの終了・タイムアウト・シグナルを待つ
func (app *Application) runPlain() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if app.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.config.Timeout)
		defer cancel()
		app.log.Info("Waiting for timeout", "duration", app.config.Timeout)
	}

	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	current := ""
	for {
		select {
		case <-ctx.Done():
			app.log.Info("Stopping playback", "reason", context.Cause(ctx))
			return nil
		case <-ticker.C:
			s := app.engine.State()
			if s.Path == "" {
				app.log.Info("Playlist finished")
				return nil
			}
			if s.Path != current {
				current = s.Path
				app.log.Info("Now playing", "path", s.Path, "title", s.Metadata.Title, "duration", s.Duration)
			}
		}
	}
}
