// Command mcscan performs an Internet-wide TCP scan of a game-server
// status-ping protocol and records responses to a local sqlite3 database.
package main

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/mattn/go-isatty"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/quartzscan/mcscan/db/scandb"
	"github.com/quartzscan/mcscan/internal/addrgen"
	"github.com/quartzscan/mcscan/internal/config"
	"github.com/quartzscan/mcscan/internal/exclude"
	"github.com/quartzscan/mcscan/internal/metricsx"
	"github.com/quartzscan/mcscan/internal/pump"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 2 || opt.Help {
		fmt.Printf("usage: %s [options] [report|scan] [env_file]\n\noptions:\n%s\nnote: if env_file is provided, config from the environment is ignored\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	cmd := "scan"
	envArg := 0
	if pflag.NArg() >= 1 {
		switch a := pflag.Arg(0); a {
		case "scan", "report":
			cmd = a
			envArg = 1
		}
	}

	var e []string
	if pflag.NArg() <= envArg {
		e = os.Environ()
	} else if x, err := readEnv(pflag.Arg(envArg)); err == nil {
		e = x
	} else {
		fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
		os.Exit(1)
	}

	var c config.Config
	if err := c.UnmarshalEnv(e); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}

	var logger zerolog.Logger
	if c.LogStdoutPretty && isatty.IsTerminal(os.Stdout.Fd()) {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = zerolog.New(os.Stdout)
	}
	logger = logger.Level(c.LogLevel).With().Timestamp().Logger()

	switch cmd {
	case "report":
		runReport(c, logger)
	default:
		runScan(c, logger)
	}
}

func runScan(c config.Config, logger zerolog.Logger) {
	runID := xid.New()
	log := logger.With().Str("run", runID.String()).Logger()

	mx := metricsx.New()
	if c.GeoIPDB != "" {
		if err := mx.EnableGeoIP(c.GeoIPDB); err != nil {
			log.Error().Err(err).Msg("failed to load geoip database")
			os.Exit(1)
		}
	}

	if c.MetricsAddr != "" {
		dbg := http.NewServeMux()
		dbg.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			mx.Metrics().WritePrometheus(w)
		})
		dbg.HandleFunc("/debug/pprof/", pprof.Index)
		dbg.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		dbg.HandleFunc("/debug/pprof/profile", pprof.Profile)
		dbg.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		dbg.HandleFunc("/debug/pprof/trace", pprof.Trace)
		go func() {
			log.Warn().Str("addr", c.MetricsAddr).Msg("running insecure debug server")
			if err := http.ListenAndServe(c.MetricsAddr, dbg); err != nil {
				log.Warn().Err(err).Msg("debug server failed")
			}
		}()
	}

	excl, err := exclude.Load(c.ExcludeFile, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to load exclusion list")
		os.Exit(1)
	}

	sink, err := scandb.Open(c.DB)
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		os.Exit(1)
	}
	defer sink.Close()

	var statusLog *pump.SnapshotWriter
	if c.StatusLog != "" {
		statusLog, err = pump.OpenSnapshotWriter(fmt.Sprintf("%s-%s.jsonl.gz", c.StatusLog, runID))
		if err != nil {
			log.Error().Err(err).Msg("failed to open status log")
			os.Exit(1)
		}
	}

	gen := addrgen.New(excl)
	p, err := pump.New(pump.Config{
		Concurrency:    c.Concurrency,
		LocalPort:      c.LocalPort,
		TargetPort:     c.TargetPort,
		StatusLog:      statusLog,
		StatusInterval: c.StatusInterval,
	}, log, gen, sink, mx)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize connection pump")
		os.Exit(1)
	}

	log.Info().Int("concurrency", c.Concurrency).Msg("starting scan")
	if err := p.Run(); err != nil {
		log.Error().Err(err).Msg("scan aborted")
		os.Exit(1)
	}
	log.Info().Msg("scan complete")
}

func runReport(c config.Config, log zerolog.Logger) {
	db, err := scandb.Open(c.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	n, err := db.Count()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: count rows: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("rows persisted: %d\n", n)

	latest, err := db.Latest()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: get latest row: %v\n", err)
		os.Exit(1)
	}
	if latest == nil {
		fmt.Println("no rows yet")
		return
	}
	fmt.Printf("most recent: %s @ %s\n\t%s\n", latest.Address, time.Unix(latest.Timestamp, 0).Format(time.RFC3339), latest.Response)
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}
