package telemetry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
	"github.com/taoyao-code/fieldsync/internal/coordinator"
)

type fakeWriter struct {
	points  []*write.Point
	flushed bool
}

func (f *fakeWriter) WritePoint(p *write.Point) { f.points = append(f.points, p) }
func (f *fakeWriter) Flush()                    { f.flushed = true }

func fieldMap(p *write.Point) map[string]any {
	out := map[string]any{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func okSync() coordinator.AttemptReport {
	a := coordinator.AttemptReport{Index: 2, Name: "2", Reason: "ok", FinishedAt: time.Unix(1700000001, 0)}
	a.Command = coordinator.CommandSync
	a.Address = 0x00E2
	a.Attempt = 1
	a.Acked = true
	a.AckLatency = 4 * time.Millisecond
	a.EchoedEpoch = 1700000000
	a.SkewValid = true
	a.Readings = [3]uint32{100, 200, 300}
	return a
}

func TestInfluxExporterSuccessfulSync(t *testing.T) {
	w := &fakeWriter{}
	e := NewInfluxExporterWithWriter(w, nil)
	e.AttemptFinished(okSync())

	require.Len(t, w.points, 2)
	assert.Equal(t, measurementAttempt, w.points[0].Name())
	assert.Equal(t, 4.0, fieldMap(w.points[0])["ack_latency_ms"])

	reading := w.points[1]
	assert.Equal(t, measurementReading, reading.Name())
	fields := fieldMap(reading)
	assert.Equal(t, int64(100), fields["v0"])
	assert.Equal(t, int64(300), fields["v2"])
	assert.Equal(t, int64(1700000000), fields["epoch"])

	e.Close()
	assert.True(t, w.flushed)
}

func TestInfluxExporterFailedAttemptHasNoReading(t *testing.T) {
	w := &fakeWriter{}
	e := NewInfluxExporterWithWriter(w, nil)
	a := okSync()
	a.Err = errors.New("skew")
	a.Reason = "skew_mismatch"
	e.AttemptFinished(a)

	stop := coordinator.AttemptReport{Reason: "ok"}
	stop.Command = coordinator.CommandStop
	e.AttemptFinished(stop)

	require.Len(t, w.points, 2)
	for _, p := range w.points {
		assert.Equal(t, measurementAttempt, p.Name())
	}
}

func TestNewInfluxExporterRequiresConfig(t *testing.T) {
	_, err := NewInfluxExporter(cfgpkg.InfluxConfig{URL: "http://localhost:8086"}, nil)
	assert.Error(t, err)
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, qos, retained, payload.([]byte)})
	return newFakeToken(nil)
}

func TestMQTTReporterTopics(t *testing.T) {
	pub := &fakePublisher{}
	r := NewMQTTReporter(pub, cfgpkg.MQTTConfig{TopicPrefix: "farm", QoS: 1}, nil)

	r.NodeChanged(coordinator.Node{Index: 3, Name: "3", Status: coordinator.StatusRecording})
	r.AttemptFinished(okSync())

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "farm/nodes/3/status", pub.msgs[0].topic)
	assert.True(t, pub.msgs[0].retained)
	assert.Equal(t, byte(1), pub.msgs[0].qos)

	var n coordinator.Node
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &n))
	assert.Equal(t, coordinator.StatusRecording, n.Status)

	assert.Equal(t, "farm/nodes/2/attempts", pub.msgs[1].topic)
	assert.False(t, pub.msgs[1].retained)
	assert.Contains(t, string(pub.msgs[1].payload), `"reason":"ok"`)
}

func TestMQTTReporterDefaultPrefix(t *testing.T) {
	r := NewMQTTReporter(&fakePublisher{}, cfgpkg.MQTTConfig{}, nil)
	assert.Equal(t, "fieldsync/nodes/0/status", r.StatusTopic(0))
}
