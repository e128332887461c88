package initializer

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/milkywaybrain/bondetl/internal/apperr"
	"github.com/milkywaybrain/bondetl/internal/config"
	"github.com/milkywaybrain/bondetl/internal/connector"
	"github.com/milkywaybrain/bondetl/internal/lock"
	"github.com/milkywaybrain/bondetl/internal/notify"
	"github.com/milkywaybrain/bondetl/internal/pipeline"
	"github.com/milkywaybrain/bondetl/internal/source"
	"github.com/milkywaybrain/bondetl/internal/storage"
	"github.com/milkywaybrain/bondetl/internal/transform"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/shirou/gopsutil/mem"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Start will initialize various required systems and then run the date range.
// The returned error carries an apperr kind.
func Start(mainCtx context.Context, cfg *config.Config, start, end time.Time) error {

	// Setting up logger.
	logFile := SetupLogger(&cfg.Log)
	defer func() {
		log.Info().Msg("exiting the app")
		_ = logFile.Close()
	}()

	runLock, err := lock.Acquire(cfg.Lock.Dir)
	if err != nil {
		log.Error().Stack().Err(errors.WithStack(err)).Msg("")
		return err
	}
	defer func() {
		if err := runLock.Release(); err != nil {
			log.Error().Stack().Err(errors.WithStack(err)).Msg("")
		}
	}()

	if err = CheckMemory(cfg.Pipeline.MemoryPerDayMB, pipeline.Days(start, end)); err != nil {
		log.Error().Stack().Err(errors.WithStack(err)).Msg("")
		return err
	}

	loc, err := cfg.Pipeline.Location()
	if err != nil {
		err = apperr.New(apperr.Configuration, "timezone", err)
		log.Error().Stack().Err(errors.WithStack(err)).Msg("")
		return err
	}

	// Establish connections to the sources and the target store.
	s3Conn, err := connector.InitS3(mainCtx, &cfg.Connection.COS)
	if err != nil {
		err = apperr.New(apperr.Connection, "object storage connection", err)
		log.Error().Stack().Err(errors.WithStack(err)).Msg("")
		return err
	}
	log.Info().Msg("object storage connected")

	mysqlConn, err := connector.InitMySQL(mainCtx, &cfg.Connection.MySQL)
	if err != nil {
		err = apperr.New(apperr.Connection, "mysql connection", err)
		log.Error().Stack().Err(errors.WithStack(err)).Msg("")
		return err
	}
	defer func() {
		_ = mysqlConn.Close()
	}()
	log.Info().Msg("mysql connected")

	var loader storage.Loader
	if cfg.Pipeline.DryRun {
		loader = storage.InitTerminal(os.Stdout)
		log.Info().Msg("terminal connected")
	} else {
		clickHouse, err := storage.InitClickHouse(&cfg.Connection.ClickHouse)
		if err != nil {
			err = apperr.New(apperr.Connection, "clickhouse connection", err)
			log.Error().Stack().Err(errors.WithStack(err)).Msg("")
			return err
		}
		loader = clickHouse
		log.Info().Msg("clickhouse connected")
	}

	// Reports are optional, a nats failure never stops the run.
	var notifier pipeline.Notifier
	if len(cfg.Connection.NATS.Addresses) > 0 {
		natsConn, err := notify.InitNATS(&cfg.Connection.NATS)
		if err != nil {
			log.Warn().Err(err).Msg("nats not connected, reports will not be published")
		} else {
			defer natsConn.Close()
			notifier = natsConn.Notifier()
			log.Info().Msg("nats connected")
		}
	}

	cos := &cfg.Connection.COS
	mysql := &cfg.Connection.MySQL
	run := &pipeline.Range{
		Day: &pipeline.Day{
			Quotes:         source.NewQuoteFiles(s3Conn.Client, cos.Bucket, cos.QuotePrefix),
			Trades:         source.NewTradeFiles(s3Conn.Client, cos.Bucket, cos.TradePrefix),
			Futures:        source.NewFutureTicks(mysqlConn.DB, mysql.Schema, mysql.Table),
			Loader:         loader,
			Normalizer:     transform.New(loc),
			BatchSize:      cfg.Pipeline.BatchSize,
			Concurrency:    cfg.Pipeline.Concurrency,
			ExtractTimeout: time.Duration(cfg.Pipeline.ExtractTimeoutSec) * time.Second,
		},
		Notifier: notifier,
	}

	state, err := run.Run(mainCtx, start, end)
	if err != nil {
		log.Error().Stack().Err(errors.WithStack(err)).Str("job_id", state.JobID).Msg("")
		return err
	}
	return nil
}

// SetupLogger points the global logger at the configured file.
// If the path given in the config for logging ends with .log then log messages are written to a file with the
// same name. Otherwise, a new log file with a timestamp attached to it's name is created in the given path.
// The file is rotated by size when max_size_mb is set.
func SetupLogger(cfg *config.Log) io.Closer {
	logFile := &lumberjack.Logger{
		Filename:   LogFileName(cfg.FilePath, time.Now()),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	switch cfg.Level {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	fileLogger := zerolog.New(logFile).With().Timestamp().Logger()
	log.Logger = fileLogger
	log.Info().Str("file", logFile.Filename).Msg("logger setup is done")
	return logFile
}

// LogFileName resolves the log file for a configured path.
func LogFileName(path string, now time.Time) string {
	if strings.HasSuffix(path, ".log") {
		return path
	}
	return path + "_" + strconv.Itoa(int(now.Unix())) + ".log"
}

// availableMemory is replaced in tests.
var availableMemory = func() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// CheckMemory fails with InsufficientResources when one day's estimated
// footprint exceeds 90% of the available memory. Days run one after another
// and release their records, so the estimate does not grow with the range.
func CheckMemory(perDayMB int, days int) error {
	if perDayMB <= 0 {
		return nil
	}
	avail, err := availableMemory()
	if err != nil {
		log.Warn().Err(err).Msg("available memory unknown, skipping memory check")
		return nil
	}
	const mb = 1024 * 1024
	required := uint64(perDayMB) * mb
	usable := avail / 10 * 9
	log.Info().
		Uint64("available_mb", avail/mb).
		Uint64("required_mb", required/mb).
		Int("days", days).
		Msg("memory check")
	if required > usable {
		return apperr.Newf(apperr.InsufficientResources, "memory check",
			"available %d MB, one day needs %d MB", avail/mb, required/mb)
	}
	return nil
}
