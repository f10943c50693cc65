package main

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/tarm/serial"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nasa-jpl/ystage/comm"
	"github.com/nasa-jpl/ystage/copley"
	"github.com/nasa-jpl/ystage/server/middleware/locker"
)

// LinkConfig describes the connection to the drive
type LinkConfig struct {
	// Addr holds the network or filesystem address of the drive,
	// e.g. 192.168.100.123:2006 for a drive connected to port 6
	// on a digi portserver, or /dev/ttyS4 for an RS232 cable
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial" koanf:"Serial"`

	Baud int `yaml:"Baud" koanf:"Baud"`

	// Timeout bounds the wait for one response line
	Timeout time.Duration `yaml:"Timeout" koanf:"Timeout"`

	// Spacing is the minimum time between commands
	Spacing time.Duration `yaml:"Spacing" koanf:"Spacing"`
}

// AuditConfig configures the traffic log.  An empty Path disables it.
type AuditConfig struct {
	Path       string `yaml:"Path" koanf:"Path"`
	MaxSizeMB  int    `yaml:"MaxSizeMB" koanf:"MaxSizeMB"`
	MaxBackups int    `yaml:"MaxBackups" koanf:"MaxBackups"`
	MaxAgeDays int    `yaml:"MaxAgeDays" koanf:"MaxAgeDays"`
	Compress   bool   `yaml:"Compress" koanf:"Compress"`
}

// Config is everything ystagesrv needs to run
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Endpoint is the path the stage routes are served under
	Endpoint string `yaml:"Endpoint" koanf:"Endpoint"`

	// Mock replaces the drive with a simulation
	Mock bool `yaml:"Mock" koanf:"Mock"`

	// InitializeOnStart initializes the stage before serving
	InitializeOnStart bool `yaml:"InitializeOnStart" koanf:"InitializeOnStart"`

	Link  LinkConfig    `yaml:"Link" koanf:"Link"`
	Audit AuditConfig   `yaml:"Audit" koanf:"Audit"`
	Stage copley.Config `yaml:"Stage" koanf:"Stage"`
}

func defaultConfig() Config {
	return Config{
		Addr:              ":8000",
		Endpoint:          "/ystage",
		InitializeOnStart: true,
		Link: LinkConfig{
			Addr:    "/dev/ttyUSB0",
			Serial:  true,
			Baud:    9600,
			Timeout: time.Second,
			Spacing: 10 * time.Millisecond},
		Audit: AuditConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30},
		Stage: copley.DefaultConfig()}
}

// loadConfig layers the file at path over the defaults.  A missing file is
// not an error.
func loadConfig(k *koanf.Koanf, path string) error {
	k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) && !strings.Contains(err.Error(), "no such") {
			return err
		}
	}
	return nil
}

func unmarshal(k *koanf.Koanf) (Config, error) {
	c := Config{}
	err := k.Unmarshal("", &c)
	if len(c.Stage.Profiles) == 0 {
		c.Stage.Profiles = copley.DefaultProfiles()
	}
	return c, err
}

func auditLogger(c AuditConfig) *log.Logger {
	if c.Path == "" {
		return nil
	}
	w := &lumberjack.Logger{
		Filename:   c.Path,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   c.Compress}
	return log.New(w, "", log.LstdFlags|log.Lmicroseconds)
}

// buildChannel returns the link to the drive and a func to close it
func buildChannel(c Config) (copley.CommandChannel, func() error) {
	if c.Mock {
		return copley.NewMockDrive(), func() error { return nil }
	}
	var ser *serial.Config
	if c.Link.Serial {
		ser = comm.MakeSerConf(c.Link.Addr, c.Link.Baud, 50*time.Millisecond)
	}
	rd := comm.NewRemoteDevice(c.Link.Addr, c.Link.Serial, ser)
	if c.Link.Timeout > 0 {
		rd.Timeout = c.Link.Timeout
	}
	rd.SetSpacing(c.Link.Spacing)
	if l := auditLogger(c.Audit); l != nil {
		rd.Audit = l
	}
	return rd, rd.Close
}

// buildController returns an uninitialized controller and a func that
// releases its link
func buildController(c Config) (*copley.Controller, func() error, error) {
	ch, closer := buildChannel(c)
	ctl, err := copley.NewController(ch, c.Stage)
	if err != nil {
		closer()
		return nil, nil, err
	}
	ctl.Logger = log.New(os.Stderr, "", log.LstdFlags)
	return ctl, closer, nil
}

func cleanEndpoint(s string) string {
	s = strings.TrimSuffix(strings.TrimSuffix(s, "*"), "/")
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return s
}

// BuildMux wraps the controller in HTTP and mounts it at the configured
// endpoint, behind the request logger, the metrics, the lock and the software
// limits.  Prometheus metrics are served at /metrics.
func BuildMux(c Config, ctl *copley.Controller) chi.Router {
	stage := copley.NewHTTPStage(ctl)
	m := newMetrics(stage)

	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(m.instrument)
	root.Method(http.MethodGet, "/metrics", m.handler())

	lock := locker.New()
	locker.Inject(stage, lock)

	r := chi.NewRouter()
	r.Use(lock.Check)
	r.Use(stage.Limits.Check)
	stage.RT().Bind(r)
	root.Mount(cleanEndpoint(c.Endpoint), r)
	return root
}
