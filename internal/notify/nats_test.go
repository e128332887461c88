package notify

import (
	"context"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/milkywaybrain/bondetl/internal/pipeline"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs    []message
	flushes int
	err     error
}

func (p *fakePublisher) Publish(subj string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, message{subj, data})
	return nil
}

func (p *fakePublisher) FlushTimeout(time.Duration) error {
	p.flushes++
	return nil
}

func TestNotifierPublishesReports(t *testing.T) {
	pub := &fakePublisher{}
	n := New(pub, "test_bondetl", 0)
	ctx := context.Background()

	require.NoError(t, n.DayDone(ctx, pipeline.DayReport{JobID: "j1", Date: "2025-01-07", Status: pipeline.Completed, Records: 9}))
	require.NoError(t, n.RunDone(ctx, pipeline.RunReport{JobID: "j1", Days: 1, Records: 9, Status: pipeline.Completed}))

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "test_bondetl.day", pub.msgs[0].subject)
	assert.Equal(t, "test_bondetl.run", pub.msgs[1].subject)
	assert.Equal(t, 1, pub.flushes)

	var day map[string]interface{}
	require.NoError(t, jsoniter.Unmarshal(pub.msgs[0].data, &day))
	assert.Equal(t, "2025-01-07", day["business_date"])
	assert.Equal(t, "COMPLETED", day["status"])
	assert.EqualValues(t, 9, day["records"])
	_, hasErr := day["error"]
	assert.False(t, hasErr)
}

func TestNotifierPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection closed")}
	err := New(pub, "b", time.Second).DayDone(context.Background(), pipeline.DayReport{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish b.day")
}
