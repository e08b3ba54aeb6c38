package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/imhotep-client/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: imhotep [-config file] [-metrics-file file] [-quiet] <command> [flags]

commands:
  login -u <username> -p <password>   sign in with a password
  google-login                        sign in with Google in the browser
  logout                              revoke and forget the session
  whoami                              show the signed-in user
  finance-connect                     connect Imhotep Finance in the browser
  finance-status                      show the Imhotep Finance connection
  currencies                          list currencies known to Imhotep Finance
`

func main() {
	// .env is optional.
	_ = godotenv.Load()

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("imhotep", flag.ContinueOnError)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := global.String("config", "", "config file (default: $CONFIG_PATH or ./imhotep.yaml)")
	metricsFile := global.String("metrics-file", "", "write session metrics in text format to this file on exit")
	quiet := global.Bool("quiet", false, "do not print the banner")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return fmt.Errorf("no command given")
	}

	c, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	setupLogging(c.GetLogLevel())
	if !*quiet {
		displayAppname(c.GetAppName())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c, os.Stdout, browserNavigator{})
	if err != nil {
		return err
	}
	defer a.close()

	cmdErr := a.dispatch(ctx, global.Arg(0), global.Args()[1:])
	if *metricsFile != "" {
		if err := a.writeMetrics(*metricsFile); err != nil {
			log.Err(err).Str("file", *metricsFile).Msg("writing metrics")
		}
	}
	return cmdErr
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
