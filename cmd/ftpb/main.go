// ftpb is a command line client for the image storage server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"runtime"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	bridge "github.com/prife/ftpbridge"
	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var (
	app = kingpin.New("ftpb", "Command line client for the image storage server.")

	host     = app.Flag("server", "Storage server host.").Short('s').Envar("FTP_SERVER").Default(bridge.DefaultHost).String()
	port     = app.Flag("port", "Storage server port.").Short('p').Envar("FTP_PORT").Default(fmt.Sprint(bridge.DefaultPort)).Int()
	timeout  = app.Flag("timeout", "Timeout for every wait on the server.").Default(bridge.DefaultReadTimeout.String()).Duration()
	logLevel = app.Flag("log-level", "Log level.").Default("warn").Enum("trace", "debug", "info", "warn", "error")
	noColor  = app.Flag("no-color", "Disable colored output.").Bool()
	noBar    = app.Flag("no-progress", "Disable progress bars.").Bool()

	lsCmd  = app.Command("ls", "List a user's files.")
	lsUser = lsCmd.Arg("user", "User id.").Required().String()

	getCmd      = app.Command("get", "Download files.")
	getUser     = getCmd.Arg("user", "User id.").Required().String()
	getNames    = getCmd.Arg("names", "File names.").Required().Strings()
	getOut      = getCmd.Flag("output", "Directory to write to.").Short('o').Default(".").ExistingDir()
	getViaBatch = getCmd.Flag("via-batch", "Find each file by walking the whole directory.").Bool()
	getJobs     = getCmd.Flag("jobs", "Files downloaded at the same time.").Short('j').Default("4").Int()

	getAllCmd  = app.Command("get-all", "Download every file of a user.")
	getAllUser = getAllCmd.Arg("user", "User id.").Required().String()
	getAllOut  = getAllCmd.Flag("output", "Directory to write to.").Short('o').Default(".").ExistingDir()

	putCmd   = app.Command("put", "Upload files, several in one batch.")
	putUser  = putCmd.Arg("user", "User id.").Required().String()
	putFiles = putCmd.Arg("files", "Local files.").Required().ExistingFiles()

	rmCmd   = app.Command("rm", "Delete files.")
	rmUser  = rmCmd.Arg("user", "User id.").Required().String()
	rmNames = rmCmd.Arg("names", "File names.").Required().Strings()

	pingCmd = app.Command("ping", "Check that the server answers.")

	rawCmd = app.Command("raw", "Send raw command lines to the server.")
)

func initLog(level string) {
	log.SetReportCaller(true)
	log.SetFormatter(&log.TextFormatter{
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			filename := path.Base(f.File)
			return "", fmt.Sprintf("%s:%d", filename, f.Line)
		},
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.WarnLevel
	}
	log.SetLevel(lvl)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))
	initLog(*logLevel)
	if *noColor || !isTerminal(os.Stdout) {
		color.NoColor = true
	}

	b, err := bridge.NewWithConfig(bridge.ServerConfig{
		Host:        *host,
		Port:        *port,
		ReadTimeout: *timeout,
	})
	if err != nil {
		app.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := &cli{b: b, out: color.Output, progress: !*noBar && isTerminal(os.Stdout)}
	switch cmd {
	case lsCmd.FullCommand():
		err = c.ls(ctx, *lsUser)
	case getCmd.FullCommand():
		err = c.get(ctx, *getUser, *getNames, *getOut, *getViaBatch, *getJobs)
	case getAllCmd.FullCommand():
		err = c.getAll(ctx, *getAllUser, *getAllOut)
	case putCmd.FullCommand():
		err = c.put(ctx, *putUser, *putFiles)
	case rmCmd.FullCommand():
		err = c.rm(ctx, *rmUser, *rmNames)
	case pingCmd.FullCommand():
		err = c.ping(ctx)
	case rawCmd.FullCommand():
		err = runRaw(b.Address(), *timeout)
	}
	if err != nil {
		c.failf("%v", err)
		os.Exit(1)
	}
}

// cli runs the subcommands against one server.
type cli struct {
	b        *bridge.Bridge
	out      io.Writer
	progress bool
}

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	infoColor = color.New(color.FgCyan)
)

func (c *cli) okf(format string, args ...interface{}) {
	okColor.Fprintf(c.out, format+"\n", args...)
}

func (c *cli) failf(format string, args ...interface{}) {
	failColor.Fprintf(c.out, format+"\n", args...)
}

func (c *cli) infof(format string, args ...interface{}) {
	infoColor.Fprintf(c.out, format+"\n", args...)
}

func (c *cli) ping(ctx context.Context) error {
	start := time.Now()
	banner, err := c.b.Ping(ctx)
	if err != nil {
		return err
	}
	c.okf("%s: %s (%s)", c.b.Address(), banner, time.Since(start).Round(time.Millisecond))
	return nil
}
