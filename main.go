package main

import (
	"io"
	"os"

	"github.com/callebjorkell/rpi-nfc-reader/config"
	"github.com/callebjorkell/rpi-nfc-reader/logbuf"
	"github.com/callebjorkell/rpi-nfc-reader/nfc"
	"github.com/callebjorkell/rpi-nfc-reader/reader"
	"github.com/callebjorkell/rpi-nfc-reader/storage"
	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app        = kingpin.New("nfc-reader", "Reads NFC cards with a PN532 or MFRC522 attached to a Raspberry Pi, or simulates them when no reader is around.")
	configPath = app.Flag("config", "Path to the YAML configuration file.").Default("config.yaml").String()
	debug      = app.Flag("debug", "Log at debug level regardless of the configuration.").Bool()

	serve        = app.Command("serve", "Start the configured reader and log every scanned card until interrupted.")
	serveConsole = serve.Flag("console", "Open an interactive console while serving.").Bool()

	read        = app.Command("read", "Wait for a single card and print its id.")
	readTimeout = read.Flag("timeout", "Give up after this long. Zero waits forever.").Default("30s").Duration()

	plugins       = app.Command("plugins", "Show the available reader drivers.")
	pluginsList   = plugins.Command("list", "List the available drivers.").Default()
	pluginsInfo   = plugins.Command("info", "Show the configuration fields of a driver.")
	pluginsInfoId = pluginsInfo.Arg("id", "The driver id.").Required().String()

	validate         = app.Command("validate", "Check a driver configuration without saving it.")
	validateId       = validate.Arg("id", "The driver id.").Required().String()
	validateSettings = validate.Arg("settings", "Configuration values as key=value.").Strings()

	use         = app.Command("use", "Validate a driver configuration and store it as the active reader.")
	useId       = use.Arg("id", "The driver id.").Required().String()
	useSettings = use.Arg("settings", "Configuration values as key=value. Values not given are kept from the stored configuration.").Strings()
)

var db storage.Store

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalln("Unable to load configuration:", err)
	}
	stream, logs := setupLogging(cfg, *debug, os.Stdout, os.Stderr)

	db, err = storage.Open(cfg.Storage.Type, cfg.Storage.Path)
	if err != nil {
		log.Fatalln("Unable to open the settings storage:", err)
	}

	switch command {
	case serve.FullCommand():
		err = runServe(cfg, stream, logs)
	case read.FullCommand():
		err = readCard(cfg)
	case pluginsList.FullCommand():
		err = listPlugins(os.Stdout, newManager(cfg, nil))
	case pluginsInfo.FullCommand():
		err = describePlugin(os.Stdout, newManager(cfg, nil), *pluginsInfoId)
	case validate.FullCommand():
		err = checkSettings(os.Stdout, newManager(cfg, nil), *validateId, *validateSettings)
	case use.FullCommand():
		err = storeSettings(os.Stdout, newManager(cfg, nil), *useId, *useSettings)
	default:
		kingpin.FatalUsage("Unrecognized command")
	}

	if cerr := db.Close(); cerr != nil {
		log.Warnln("Unable to close the settings storage:", cerr)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// setupLogging routes the standard logger through the stream hook and the in-memory buffer. The returned stream hook
// can be pointed at other writers before any goroutine starts logging.
func setupLogging(cfg *config.Config, debug bool, out, errOut io.Writer) (*logbuf.StreamHook, *logbuf.Hook) {
	level := cfg.LogLevel()
	if debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetOutput(io.Discard)

	stream := &logbuf.StreamHook{Formatter: cfg.Formatter(), Out: out, Err: errOut}
	logs := logbuf.New(cfg.Log.Buffer, cfg.Formatter())
	log.AddHook(stream)
	log.AddHook(logs)
	return stream, logs
}

func newManager(cfg *config.Config, onScan nfc.ScanFunc) *reader.Manager {
	return reader.New(reader.DefaultRegistry(cfg.StopTimeout()), db, onScan)
}
