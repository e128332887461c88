package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/milkywaybrain/bondetl/internal/apperr"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/process"
)

// FileName is the pid file created in the lock directory.
const FileName = ".bondetl.pid"

// Lock is a held single instance lock.
type Lock struct {
	path string
}

// pidAlive is replaced in tests.
var pidAlive = func(pid int) (bool, error) {
	return process.PidExists(int32(pid))
}

// Acquire creates the pid file in dir. It fails with a ConcurrentRun error
// when the file names a live process. A file left by a dead process is taken over.
func Acquire(dir string) (*Lock, error) {
	path := filepath.Join(dir, FileName)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(path)
				return nil, apperr.New(apperr.Unexpected, "write lock file", werr)
			}
			log.Debug().Str("path", path).Msg("lock acquired")
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, apperr.New(apperr.Unexpected, "create lock file", err)
		}

		pid, err := readPID(path)
		if err == nil {
			alive, aerr := pidAlive(pid)
			if aerr != nil {
				return nil, apperr.New(apperr.Unexpected, "check lock owner", aerr)
			}
			if alive && pid != os.Getpid() {
				return nil, apperr.Newf(apperr.ConcurrentRun, "acquire lock", "another instance is running with pid %d (%s)", pid, path)
			}
		}
		log.Warn().Str("path", path).Msg("removing stale lock file")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, apperr.New(apperr.Unexpected, "remove stale lock file", err)
		}
	}
	return nil, apperr.Newf(apperr.ConcurrentRun, "acquire lock", "lock file %s keeps reappearing", path)
}

func readPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, errors.Wrap(err, "lock file content")
	}
	return pid, nil
}

// Release removes the pid file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove lock file")
	}
	return nil
}
