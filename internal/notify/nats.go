package notify

import (
	"context"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/milkywaybrain/bondetl/internal/config"
	"github.com/milkywaybrain/bondetl/internal/pipeline"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// NATS is for publishing run progress to nats.
// Day reports go to <base>.day, the final report to <base>.run.
type NATS struct {
	Basic *nats.Conn
	Cfg   *config.NATS
}

var natsConn NATS

// Publisher is the subset of nats.Conn used for publishing.
type Publisher interface {
	Publish(subj string, data []byte) error
	FlushTimeout(timeout time.Duration) error
}

// InitNATS initializes nats connection with configured values.
func InitNATS(cfg *config.NATS) (*NATS, error) {
	if natsConn.Basic == nil {
		opts := []nats.Option{nats.Name("bondetl")}
		if strings.TrimSpace(cfg.Username) != "" && strings.TrimSpace(cfg.Password) != "" {
			opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
		}
		if cfg.ReqTimeoutSec > 0 {
			opts = append(opts, nats.Timeout(time.Duration(cfg.ReqTimeoutSec)*time.Second))
		}
		nc, err := nats.Connect(strings.Join(cfg.Addresses, ","), opts...)
		if err != nil {
			return nil, err
		}
		natsConn = NATS{
			Basic: nc,
			Cfg:   cfg,
		}
	}
	return &natsConn, nil
}

// Notifier returns a pipeline notifier publishing on this connection.
func (n *NATS) Notifier() *Notifier {
	return New(n.Basic, n.Cfg.SubjectBaseName, time.Duration(n.Cfg.ReqTimeoutSec)*time.Second)
}

// Close drains and closes the connection.
func (n *NATS) Close() {
	if n.Basic == nil {
		return
	}
	_ = n.Basic.Drain()
	natsConn = NATS{}
}

// Notifier publishes pipeline reports as json.
type Notifier struct {
	pub     Publisher
	base    string
	timeout time.Duration
}

// New returns a notifier publishing under the subject base.
func New(pub Publisher, base string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{pub: pub, base: base, timeout: timeout}
}

// DaySubject is the subject of day reports.
func (n *Notifier) DaySubject() string { return n.base + ".day" }

// RunSubject is the subject of run reports.
func (n *Notifier) RunSubject() string { return n.base + ".run" }

// DayDone implements pipeline.Notifier.
func (n *Notifier) DayDone(_ context.Context, report pipeline.DayReport) error {
	return n.publish(n.DaySubject(), report, false)
}

// RunDone implements pipeline.Notifier. The connection is flushed so the
// final report is out before the process exits.
func (n *Notifier) RunDone(_ context.Context, report pipeline.RunReport) error {
	return n.publish(n.RunSubject(), report, true)
}

func (n *Notifier) publish(subject string, v interface{}, flush bool) error {
	data, err := jsoniter.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}
	if err := n.pub.Publish(subject, data); err != nil {
		return errors.Wrapf(err, "publish %s", subject)
	}
	if flush {
		if err := n.pub.FlushTimeout(n.timeout); err != nil {
			return errors.Wrapf(err, "flush %s", subject)
		}
	}
	return nil
}
