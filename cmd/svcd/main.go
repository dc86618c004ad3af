// Command svcd is the service supervisor daemon: it loads a declared
// set of services and keeps them alive per policy. It wires up the core
// services whose contracts internal/api describes; it serves no
// transport of its own.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nullstack/svcd/internal/actionlog"
	"github.com/nullstack/svcd/internal/auth"
	"github.com/nullstack/svcd/internal/config"
	"github.com/nullstack/svcd/internal/log"
	"github.com/nullstack/svcd/internal/signals"
	"github.com/nullstack/svcd/internal/store"
	"github.com/nullstack/svcd/internal/supervisor"
)

const (
	defConfigLoc = `/opt/svcd/etc/svcd.cfg`
	defDataDir   = `/opt/svcd/var/svcd.db`
)

var (
	cfgFlag  = flag.String("config", defConfigLoc, "config file path")
	dataFlag = flag.String("data", defDataDir, "bbolt data file path")
	fileFlag = flag.String("file", "", "dump file for export/import")
)

func main() {
	flag.Parse()
	args := flag.Args()
	sub := "run"
	if len(args) > 0 {
		sub = args[0]
		// Flags may also follow the subcommand, as in `export --file x`.
		flag.CommandLine.Parse(args[1:])
		args = append([]string{sub}, flag.Args()...)
	}

	switch sub {
	case "configtest":
		os.Exit(runConfigtest())
	case "export":
		os.Exit(runExport())
	case "import":
		os.Exit(runImport())
	case "cleanup":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "cleanup requires a YYYY-MM-DD argument")
			os.Exit(1)
		}
		os.Exit(runCleanup(args[1]))
	case "run":
		os.Exit(runDaemon())
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", sub)
		os.Exit(1)
	}
}

func runConfigtest() int {
	if _, err := config.Load(*cfgFlag); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}
	fmt.Println("config ok")
	return 0
}

func openStoreForTool() (*store.Store, int) {
	st, err := store.Open(*dataFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open store:", err)
		return nil, 1
	}
	return st, 0
}

func runExport() int {
	if *fileFlag == "" {
		fmt.Fprintln(os.Stderr, "export requires --file")
		return 1
	}
	st, code := openStoreForTool()
	if st == nil {
		return code
	}
	defer st.Close()
	if err := st.ExportToFile(*fileFlag); err != nil {
		fmt.Fprintln(os.Stderr, "export failed:", err)
		return 1
	}
	fmt.Println("exported to", *fileFlag)
	return 0
}

func runImport() int {
	if *fileFlag == "" {
		fmt.Fprintln(os.Stderr, "import requires --file")
		return 1
	}
	st, code := openStoreForTool()
	if st == nil {
		return code
	}
	defer st.Close()
	if err := st.ImportFromFile(*fileFlag); err != nil {
		fmt.Fprintln(os.Stderr, "import failed:", err)
		return 1
	}
	fmt.Println("imported from", *fileFlag)
	return 0
}

func runCleanup(dateStr string) int {
	t, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad date, want YYYY-MM-DD:", err)
		return 1
	}
	st, code := openStoreForTool()
	if st == nil {
		return code
	}
	defer st.Close()

	lg := log.New(os.Stderr)
	al, err := actionlog.New(st, lg, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open action log:", err)
		return 1
	}
	if err := al.Cleanup(t.UnixMilli()); err != nil {
		fmt.Fprintln(os.Stderr, "cleanup failed:", err)
		return 1
	}
	return 0
}

func runDaemon() int {
	cfg, err := config.Load(*cfgFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return 1
	}

	lg, err := cfg.GetLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open logger:", err)
		return 1
	}
	if lvlName := os.Getenv("SVCD_LOG_LEVEL"); lvlName != "" {
		if lvl, err := log.LevelFromString(lvlName); err == nil {
			lg.SetLevel(lvl)
		}
	}
	log.PrintOSInfo(os.Stdout)

	st, err := store.Open(*dataFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open store:", err)
		return 1
	}
	defer st.Close()

	authSvc, err := auth.New(st, lg, auth.Options{SessionMaxAge: 12 * time.Hour})
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to init auth service:", err)
		return 1
	}
	if err := authSvc.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to start auth service:", err)
		return 1
	}

	alog, err := actionlog.New(st, lg, authSvc)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to init action log:", err)
		return 1
	}

	svIDs := make([]uint32, len(cfg.Services))
	for i, s := range cfg.Services {
		svIDs[i] = s.ID
	}
	if err := authSvc.Bootstrap(svIDs); err != nil {
		fmt.Fprintln(os.Stderr, "bootstrap failed:", err)
		return 1
	}

	sup := supervisor.New(alog, authSvc, lg)
	sup.Run()
	if err := sup.Load(cfg.Services); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load services:", err)
		return 1
	}

	lg.Info("svcd started", log.KV("services", len(cfg.Services)))
	sig := signals.WaitForQuit()
	lg.Info("received shutdown signal", log.KV("signal", sig.String()))

	sup.Shutdown()
	authSvc.Stop()
	return 0
}
