package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/ystage/copley"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "ystagesrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	if err := loadConfig(k, ConfigFileName); err != nil {
		log.Fatalf("error loading config: %v", err)
	}
}

func getconfig() Config {
	c, err := unmarshal(k)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `ystagesrv drives the Y stage, a single linear axis on a Copley servo drive,
and exposes an HTTP interface to it

Usage:
	ystagesrv <command>

Commands:
	run
	help
	mkconf
	conf
	version
	home
	move <position>
	status`
	fmt.Println(str)
}

func help() {
	str := `ystagesrv is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

Run mkconf to write the defaults to ystagesrv.yml, then edit it.  Link holds the
serial port or terminal server address; Mock: true simulates the drive instead.
Stage holds the axis limits (encoder counts), the imaging and moving profiles,
and the polling budgets for motion and mode changes.

run serves these routes under Endpoint (default /ystage):
	GET  pos            position, {"f64": counts}
	POST pos            move, {"f64": counts}, ?relative=true for a relative move
	POST home
	POST stop
	POST initialize
	GET  mode / POST mode  {"str": "imaging" | "moving"}
	GET  state          controller state, commanded and last known position
	GET  status         decoded status and trajectory registers
	GET  faults         decoded fault register
	POST faults/reset
	POST abort/clear
	POST trajectory-limits  {"velocity", "acceleration", "deceleration"}
	GET  limits
	POST raw            {"str": "g r0xa0"}
	GET  lock / POST lock  {"bool": true}
	GET  route-list

and Prometheus metrics at /metrics

home, move and status talk to the drive once and exit.  home and move reset
and initialize the drive first.`
	fmt.Println(str)
}

func mkconf() {
	c := getconfig()
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
	c := getconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("ystagesrv version %v\n", Version)
}

func run() {
	c := getconfig()
	ctl, closer, err := buildController(c)
	if err != nil {
		log.Fatal(err)
	}
	defer closer()
	if c.InitializeOnStart {
		if err := ctl.Initialize(); err != nil {
			// still serve, POST initialize can retry
			log.Println(err)
		}
	}
	mux := BuildMux(c, ctl)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

// spin runs fcn behind a terminal spinner
func spin(msg string, fcn func() error) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"}})
	if err != nil {
		return fcn()
	}
	spinner.Start()
	err = fcn()
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		return err
	}
	spinner.StopMessage(msg + " done")
	spinner.Stop()
	return nil
}

func oneshot(fcn func(*copley.Controller) error) {
	c := getconfig()
	ctl, closer, err := buildController(c)
	if err != nil {
		log.Fatal(err)
	}
	defer closer()
	if err := fcn(ctl); err != nil {
		closer()
		os.Exit(1)
	}
}

func home() {
	oneshot(func(ctl *copley.Controller) error {
		if err := spin("initializing", ctl.Initialize); err != nil {
			return err
		}
		return spin("homing", ctl.Home)
	})
}

func move(arg string) {
	target, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		log.Fatalf("position %q is not an integer number of counts", arg)
	}
	oneshot(func(ctl *copley.Controller) error {
		if err := spin("initializing", ctl.Initialize); err != nil {
			return err
		}
		return spin(fmt.Sprintf("moving to %d", target), func() error { return ctl.MoveTo(target) })
	})
}

// report is what the status command prints
type report struct {
	Position   int64    `yaml:"Position"`
	Status     []string `yaml:"Status"`
	Trajectory []string `yaml:"Trajectory"`
	Faults     []string `yaml:"Faults"`
}

func status() {
	oneshot(func(ctl *copley.Controller) error {
		var (
			r   report
			err error
		)
		if r.Position, err = ctl.Position(); err != nil {
			log.Println(err)
			return err
		}
		s, err := ctl.Status()
		if err != nil {
			log.Println(err)
			return err
		}
		t, err := ctl.TrajectoryStatus()
		if err != nil {
			log.Println(err)
			return err
		}
		f, err := ctl.CheckFaults()
		if err != nil {
			log.Println(err)
			return err
		}
		r.Status, r.Trajectory, r.Faults = s.Descriptions(), t.Descriptions(), f.Descriptions()
		return yml.NewEncoder(os.Stdout).Encode(r)
	})
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
	case "home":
		home()
		return
	case "move":
		if len(args) < 3 {
			log.Fatal("move needs a position")
		}
		move(args[2])
		return
	case "status":
		status()
		return
	default:
		log.Fatal("unknown command")
	}
}
