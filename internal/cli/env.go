package cli

import (
	"context"
	"flag"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	svcMetric "github.com/rudderlabs/rudder-go-kit/stats/metric"

	"folderpull/internal/manifest"
	"folderpull/internal/settings"
	"folderpull/internal/storage"
	"folderpull/internal/transfer"
)

// commonFlags are shared by every command that talks to the server.
type commonFlags struct {
	settingsPath *string
	server       *string
	session      *string
	logLevel     *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		settingsPath: fs.String("settings", settings.DefaultPath, "settings file path"),
		server:       fs.String("server", "", "server base URL (overrides settings and FOLDERPULL_SERVER_URL)"),
		session:      fs.String("session", "", "session cookie value (overrides settings and FOLDERPULL_SESSION)"),
		logLevel:     fs.String("log-level", "", "log level: DEBUG|INFO|WARN|ERROR (default ERROR)"),
	}
}

type loggerFactory interface {
	NewLogger() logger.Logger
}

type runEnv struct {
	conf         *config.Config
	settingsPath string
	stored       settings.Settings
	rt           settings.Runtime
	logFactory   loggerFactory
	log          logger.Logger
}

// newStats builds the metrics client used when FOLDERPULL_ENABLE_STATS is
// set. StatsD by default, OpenTelemetry with FOLDERPULL_OPEN_TELEMETRY_ENABLED.
var newStats = func(conf *config.Config, lf loggerFactory) stats.Stats {
	return stats.NewStats(conf, lf, svcMetric.Instance)
}

// loadEnv applies flags over environment over the settings file over
// defaults.
func loadEnv(cf commonFlags) (runEnv, error) {
	path := strings.TrimSpace(*cf.settingsPath)
	stored, err := settings.Read(path)
	if err != nil {
		return runEnv{}, err
	}
	conf := settings.NewConfig()
	rt := settings.Resolve(conf, stored)
	if v := strings.TrimSpace(*cf.server); v != "" {
		rt.ServerURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(*cf.session); v != "" {
		rt.Session = v
	}

	level := strings.ToUpper(firstNonEmpty(*cf.logLevel, conf.GetString("LOG_LEVEL", ""), "ERROR"))
	conf.Set("LOG_LEVEL", level)
	lf := logger.NewFactory(conf)
	log := lf.NewLogger().Child("folderpull")

	return runEnv{
		conf:         conf,
		settingsPath: path,
		stored:       stored,
		rt:           rt,
		logFactory:   lf,
		log:          log,
	}, nil
}

func (e runEnv) manifestClient() *manifest.Client {
	return manifest.NewClient(e.rt.ServerURL,
		manifest.WithSession(e.rt.Session),
		manifest.WithHTTPClient(&http.Client{Timeout: e.rt.FetchTimeout}),
		manifest.WithLogger(e.log.Child("manifest")),
	)
}

func (e runEnv) transferEngine() *transfer.Engine {
	return transfer.NewEngine(transfer.Config{
		ChunkSize:   e.rt.ChunkSize,
		ReadTimeout: e.rt.ReadTimeout,
		HTTPClient:  &http.Client{Transport: http.DefaultTransport},
		Log:         e.log.Child("transfer"),
	})
}

// provider picks the blob backend when a bucket URL is set, the local
// directory otherwise.
func (e runEnv) provider(confirm storage.ConfirmFunc) storage.Provider {
	if strings.TrimSpace(e.rt.Bucket) != "" {
		return storage.NewBlob(e.rt.Bucket, e.rt.Prefix, confirm)
	}
	return storage.NewLocal(e.rt.OutDir, confirm)
}

// startStats returns the job's metrics client and the func that flushes it.
// Metrics are off unless enabled in config.
func (e runEnv) startStats(ctx context.Context) (stats.Stats, func()) {
	if !e.conf.GetBool("enableStats", false) {
		return stats.NOP, func() {}
	}
	s := newStats(e.conf, e.logFactory)
	if err := s.Start(ctx, stats.DefaultGoRoutineFactory); err != nil {
		e.log.Warnn("metrics disabled", logger.NewErrorField(err))
		return stats.NOP, func() {}
	}
	return s, s.Stop
}

// destinationLabel is how the destination is shown before it is acquired.
func (e runEnv) destinationLabel() string {
	if b := strings.TrimSpace(e.rt.Bucket); b != "" {
		if e.rt.Prefix == "" {
			return b
		}
		return strings.TrimRight(b, "/") + "/" + strings.Trim(e.rt.Prefix, "/")
	}
	if abs, err := filepath.Abs(e.rt.OutDir); err == nil {
		return abs
	}
	return e.rt.OutDir
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
