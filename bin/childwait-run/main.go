package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/square/childwait/pkg/config"
	"github.com/square/childwait/pkg/exitjournal"
	"github.com/square/childwait/pkg/logging"
	"github.com/square/childwait/pkg/metrics"
	"github.com/square/childwait/pkg/process"
	"github.com/square/childwait/pkg/reaper"
)

const version = "0.1.0"

var (
	configPath     = kingpin.Flag("config", "YAML config file. Defaults to $CONFIG_PATH if set.").Short('c').String()
	timeout        = kingpin.Flag("timeout", "How long to wait for each command. Zero waits forever.").Short('t').Duration()
	killOnTimeout  = kingpin.Flag("kill-on-timeout", "Kill commands that outlive --timeout instead of abandoning them.").Short('k').Bool()
	journalPath    = kingpin.Flag("journal", "Sqlite database to record exits in, or \"none\".").Short('j').String()
	metricsAddress = kingpin.Flag("metrics-address", "Address to serve metrics on, as JSON.").String()
	logLevel       = kingpin.Flag("log-level", "Log level (debug, info, warning, error).").String()

	commands = kingpin.Arg("command", "Shell commands to run concurrently.").Required().Strings()
)

func main() {
	kingpin.Version(version)
	kingpin.Parse()

	logger := logging.DefaultLogger
	cfg, err := loadConfig()
	if err != nil {
		logger.WithError(err).Fatalln("could not load config")
	}
	if err = cfg.Apply(logger); err != nil {
		logger.WithError(err).Fatalln("invalid config")
	}

	var journal exitjournal.Journal
	if cfg.JournalEnabled() {
		journal, err = openJournal(cfg, logger)
		if err != nil {
			logger.WithError(err).Fatalln("could not open exit journal")
		}
	}

	if cfg.MetricsAddress != "" {
		go func() {
			err := http.ListenAndServe(cfg.MetricsAddress, metrics.ExpHandler())
			logger.WithErrorAndFields(err, logrus.Fields{
				"address": cfg.MetricsAddress,
			}).Errorln("metrics server exited")
		}()
	}

	r := &runner{
		spawner:       process.DefaultSpawner(),
		journal:       journal,
		timeout:       cfg.Timeout,
		killOnTimeout: cfg.KillOnTimeout,
		logger:        logger,
	}
	reaper.GlobalOrphanQueue().SetReapObserver(r.recordOrphan)

	os.Exit(finish(os.Stdout, r.runAll(*commands), journal, logger))
}

// finish prints every result, closes the journal and returns the exit code.
func finish(out io.Writer, results []result, journal exitjournal.Journal, logger logging.Logger) int {
	code := 0
	for _, res := range results {
		fmt.Fprintln(out, res)
		if !res.ok() {
			code = 1
		}
	}
	if journal != nil {
		if err := journal.Close(); err != nil {
			logger.WithError(err).Errorln("Could not close exit journal")
		}
	}
	return code
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case *configPath != "":
		cfg, err = config.LoadConfigFile(*configPath)
	case os.Getenv("CONFIG_PATH") != "":
		cfg, err = config.LoadFromEnvironment()
	default:
		cfg, err = config.UnmarshalConfig(nil)
	}
	if err != nil {
		return nil, err
	}

	// flags win over the file
	if *timeout != 0 {
		cfg.Timeout = *timeout
	}
	if *killOnTimeout {
		cfg.KillOnTimeout = true
	}
	if *journalPath != "" {
		cfg.JournalPath = *journalPath
	}
	if *metricsAddress != "" {
		cfg.MetricsAddress = *metricsAddress
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	return cfg, nil
}

func openJournal(cfg *config.Config, logger logging.Logger) (exitjournal.Journal, error) {
	journal, err := exitjournal.NewSQLiteJournal(cfg.JournalPath, logger)
	if err != nil {
		return nil, err
	}
	if err = journal.Migrate(); err != nil {
		journal.Close()
		return nil, err
	}
	if err = journal.PruneRowsBefore(time.Now().Add(-cfg.PruneAfter)); err != nil {
		logger.WithError(err).Warnln("could not prune exit journal")
	}
	return journal, nil
}

// runAll runs every command concurrently and returns their results in order.
func (r *runner) runAll(commands []string) []result {
	results := make([]result, len(commands))
	var wg sync.WaitGroup
	for i, command := range commands {
		wg.Add(1)
		go func(i int, command string) {
			defer wg.Done()
			results[i] = r.run(command)
		}(i, command)
	}
	wg.Wait()
	return results
}
