package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.jpl.nasa.gov/bdube/xpad/cfgstore"
	"github.jpl.nasa.gov/bdube/xpad/detector"
	"github.jpl.nasa.gov/bdube/xpad/generichttp"
	"github.jpl.nasa.gov/bdube/xpad/generichttp/ascii"
	"github.jpl.nasa.gov/bdube/xpad/imxpad"
	"github.jpl.nasa.gov/bdube/xpad/logging"
	"github.jpl.nasa.gov/bdube/xpad/server/middleware/locker"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "imxpadsrv.yml"
	k              = koanf.New(".")
)

type config struct {
	// Addr is the address to listen for HTTP requests on
	Addr string `yaml:"Addr"`

	// Root is the path the detector routes are mounted at
	Root string `yaml:"Root"`

	// CamIPAddress is the host of the XPAD server
	CamIPAddress string `yaml:"CamIPAddress"`

	// Port is the TCP port of the XPAD server
	Port int `yaml:"Port"`

	// ConfigPath is the directory calibration files are kept in
	ConfigPath string `yaml:"ConfigPath"`

	// Model is the detector model, e.g. XPAD_S70
	Model string `yaml:"Model"`

	// Mock replaces the detector with an in-memory simulation
	Mock bool `yaml:"Mock"`

	// DialTimeout bounds connecting and ordinary commands
	DialTimeout string `yaml:"DialTimeout"`

	// IdleTimeout hangs up an unused session; 0s keeps it open
	IdleTimeout string `yaml:"IdleTimeout"`

	// CalibrationTimeout bounds the calibration commands
	CalibrationTimeout string `yaml:"CalibrationTimeout"`

	// ITHLStepRate is the number of ITHL steps per second; 0 does not pace
	ITHLStepRate float64 `yaml:"ITHLStepRate"`

	// LogLevel is a zerolog level name
	LogLevel string `yaml:"LogLevel"`

	// Metrics serves prometheus metrics at /metrics
	Metrics bool `yaml:"Metrics"`
}

func defaults() config {
	return config{
		Addr:               ":8000",
		Root:               "/xpad",
		CamIPAddress:       "localhost",
		Port:               3456,
		ConfigPath:         "/tmp",
		Model:              "XPAD_S70",
		DialTimeout:        "5s",
		IdleTimeout:        "0s",
		CalibrationTimeout: "1h",
		ITHLStepRate:       10,
		LogLevel:           "info",
		Metrics:            true,
	}
}

func setupconfig() {
	k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `imxpadsrv exposes control of imXPAD hybrid pixel detectors over HTTP.
It speaks to the XPAD server over TCP on behalf of its clients.

Usage:
	imxpadsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `imxpadsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.

CamIPAddress and Port locate the XPAD server.  The connection is made on the
first command and re-made if it drops.

ConfigPath holds the calibration files.  A configuration named "beam" is the
pair beam.cfg (global registers) and beam.cfl (pixel registers).

Timeouts are written as durations, e.g. 5s, 1m, 1h.  An IdleTimeout of 0s keeps
the session with the XPAD server open between commands.

Mock: true serves an in-memory detector, useful for testing clients.

POST /raw with {"str": "command"} sends a command the routes do not cover.
POST /lock with {"bool": true} makes every other POST return 423 until unlocked.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("imxpadsrv version %v\n", Version)
}

// durations parses the timeouts of the config
func (c config) durations() (dial, idle, calib time.Duration, err error) {
	if dial, err = time.ParseDuration(c.DialTimeout); err != nil {
		return
	}
	if idle, err = time.ParseDuration(c.IdleTimeout); err != nil {
		return
	}
	calib, err = time.ParseDuration(c.CalibrationTimeout)
	return
}

// camera is a detector driver which holds a connection
type camera interface {
	detector.Camera
	Close() error
}

// newCamera returns the camera the config describes
func newCamera(cfg config) (camera, error) {
	model, err := imxpad.ParseModel(cfg.Model)
	if err != nil {
		return nil, err
	}
	if cfg.Mock {
		return imxpad.NewMockCamera(model), nil
	}
	dial, idle, calib, err := cfg.durations()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(cfg.CamIPAddress, strconv.Itoa(cfg.Port))
	cam := imxpad.NewCamera(imxpad.NewClient(addr, dial, idle), model)
	cam.CalibrationTimeout = calib
	return cam, nil
}

// newRouter mounts the detector routes and POST /raw at cfg.Root behind a locker
func newRouter(cfg config, d *detector.Device) chi.Router {
	w := detector.NewHTTPDetector(d)
	ascii.InjectRawComm(w.RT(), d)
	l := locker.New()
	locker.Inject(w, l)

	root := chi.NewRouter()
	root.Use(middleware.Logger)
	if cfg.Metrics {
		root.Handle("/metrics", promhttp.Handler())
	}
	mux := chi.NewRouter()
	mux.Use(l.Check)
	w.RT().Bind(mux)
	root.Mount(generichttp.SubMuxSanitize(cfg.Root), mux)
	return root
}

// initialize runs the detector initialization behind a spinner
func initialize(d *detector.Device) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " initializing detector",
		StopCharacter:     "✓",
		StopFailCharacter: "✗",
		StopFailMessage:   "detector initialization failed, check the XPAD server",
	})
	if err != nil {
		return d.Init()
	}
	spinner.Start()
	if err = d.Init(); err != nil {
		spinner.StopFail()
		return err
	}
	spinner.Stop()
	return nil
}

func run() {
	cfg := config{}
	k.Unmarshal("", &cfg)
	logging.Configure(logging.Config{Level: cfg.LogLevel})
	lg := logging.WithComponent("main")

	cam, err := newCamera(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer cam.Close()

	store := cfgstore.New(cfg.ConfigPath)
	d := detector.New(cam, store, cfg.ITHLStepRate)
	if err = initialize(d); err != nil {
		// the detector may be powered on later and set up over HTTP
		lg.Error().Err(err).Msg("detector initialization incomplete")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err = store.Watch(ctx); err != nil {
		lg.Warn().Err(err).Str("dir", cfg.ConfigPath).Msg("not watching configuration directory")
	} else {
		defer store.Stop()
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: newRouter(cfg, d)}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	lg.Info().Str("addr", cfg.Addr+generichttp.SubMuxSanitize(cfg.Root)).Msg("now listening for requests")
	err = srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
