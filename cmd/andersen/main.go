// Command andersen solves inclusion-based points-to constraints, either read
// from YAML constraint graphs or generated from Go packages.
package main

import (
	"os"
	"runtime/pprof"

	"github.com/BarrensZeppelin/andersen/config"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// Settings after the configuration file and the global flags are applied.
var cfg = config.Default()

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "andersen"
	app.Usage = "inclusion-based points-to analysis"
	app.HideVersion = true

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "read settings from YAML `FILE`"},
		cli.StringFlag{Name: "log-level", Usage: "log `LEVEL` (panic, fatal, error, warn, info, debug, trace)"},
		cli.BoolFlag{Name: "no-color", Usage: "disable colored output"},
		cli.StringFlag{Name: "cpuprofile", Usage: "write cpu profile to `FILE`"},
	}

	var profile *os.File
	app.Before = func(c *cli.Context) error {
		cfg = config.Default()
		if path := c.String("config"); path != "" {
			var err error
			if cfg, err = config.Load(path); err != nil {
				return err
			}
		}
		if c.IsSet("log-level") {
			cfg.LogLevel = c.String("log-level")
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		if c.Bool("no-color") || color.NoColor {
			cfg.Color = false
		}

		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
			DisableColors:   !cfg.Color,
		})
		log.SetLevel(cfg.Level())

		if path := c.String("cpuprofile"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return errors.Wrap(err, "could not create CPU profile")
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				f.Close()
				return errors.Wrap(err, "could not start CPU profile")
			}
			profile = f
		}
		return nil
	}

	app.After = func(c *cli.Context) error {
		if profile == nil {
			return nil
		}
		pprof.StopCPUProfile()
		err := profile.Close()
		profile = nil
		return errors.Wrap(err, "closing CPU profile")
	}

	app.Commands = []cli.Command{
		solveCommand,
		goCommand,
		statsCommand,
		showCommand,
	}
	return app
}
