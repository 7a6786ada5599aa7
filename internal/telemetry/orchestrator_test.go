package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/hmsd/internal/collector"
	"codeberg.org/mutker/hmsd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (g *fakeGateway) Send(_ context.Context, body []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bodies = append(g.bodies, body)
	return g.err
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.bodies)
}

// stalledGateway never answers; Send returns once ctx is done
type stalledGateway struct{}

func (stalledGateway) Send(ctx context.Context, _ []byte) error {
	<-ctx.Done()
	return errors.New().Wrap(errors.ErrNetworkFailed, ctx.Err())
}

type fakeRecorder struct {
	failed []string
	sends  []string
}

func (r *fakeRecorder) CollectorFailed(id string)    { r.failed = append(r.failed, id) }
func (r *fakeRecorder) SendCompleted(outcome string) { r.sends = append(r.sends, outcome) }

func staticCollector(id string, data map[string]string) collector.Collector {
	return collector.Func{Name: id, Fn: func(context.Context) (map[string]string, error) {
		return data, nil
	}}
}

func failingCollector(id string) collector.Collector {
	return collector.Func{Name: id, Fn: func(context.Context) (map[string]string, error) {
		return nil, fmt.Errorf("%s probe failed", id)
	}}
}

func newTestRegistry() *collector.Registry {
	return collector.NewRegistry(
		staticCollector("cpu", map[string]string{"model": "Xeon"}),
		failingCollector("disk"),
		staticCollector("memory", map[string]string{"total": "32GiB"}),
	)
}

func activate(t *testing.T, store *Store, consent map[string]bool) {
	t.Helper()
	rec, err := store.Enable(context.Background(), consent)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), rec))
}

func TestRetrieveDataToSend(t *testing.T) {
	recorder := &fakeRecorder{}
	o := NewOrchestrator(newTestRegistry(), newTestStore(t), &fakeGateway{}, WithRecorder(recorder))

	result, err := o.RetrieveDataToSend(context.Background(), map[string]bool{
		"cpu":    true,
		"disk":   true,
		"memory": false,
		"gpu":    true,
	})
	require.NoError(t, err)
	assert.Equal(t, collector.Result{"cpu": {"model": "Xeon"}}, result)
	assert.Equal(t, []string{"disk"}, recorder.failed)
}

func TestSendSimulationSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gateway := &fakeGateway{}
	recorder := &fakeRecorder{}
	o := NewOrchestrator(newTestRegistry(), store, gateway, WithRecorder(recorder))

	outcome, err := o.Send(ctx, collector.Result{"cpu": {"model": "Xeon"}}, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSimulated, outcome)
	assert.Equal(t, 0, gateway.calls())
	assert.Equal(t, []string{"simulated"}, recorder.sends)

	rec, err := store.RetrieveSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.NotNil(t, rec.SentTimestamp)
}

func TestSendDeliversFlatJSON(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{}
	o := NewOrchestrator(newTestRegistry(), newTestStore(t), gateway)

	payload := collector.Result{
		"cpu":    {"model": "Xeon"},
		"memory": {"total": "32GiB"},
	}
	outcome, err := o.Send(ctx, payload, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	require.Equal(t, 1, gateway.calls())

	var decoded map[string]map[string]string
	require.NoError(t, json.Unmarshal(gateway.bodies[0], &decoded))
	assert.Equal(t, map[string]map[string]string(payload), decoded)
}

func TestSendFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gateway := &fakeGateway{err: errors.New().WithMessage(errors.ErrNetworkFailed, "endpoint returned 503")}
	o := NewOrchestrator(newTestRegistry(), store, gateway)

	outcome, err := o.Send(ctx, collector.Result{}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	rec, err := store.RetrieveSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, rec.Status)
	assert.Contains(t, rec.Info, "endpoint returned 503")
}

func TestRunCycleSkipsWithoutActiveRecord(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gateway := &fakeGateway{}
	o := NewOrchestrator(newTestRegistry(), store, gateway)

	outcome, err := o.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	rec, err := store.Disable(ctx, map[string]bool{"cpu": true})
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, rec))

	outcome, err = o.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, 0, gateway.calls())
}

func TestRunCycleSendsConsentedData(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gateway := &fakeGateway{}
	o := NewOrchestrator(newTestRegistry(), store, gateway)

	activate(t, store, map[string]bool{"cpu": true, "disk": true, "memory": true})

	outcome, err := o.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	require.Equal(t, 1, gateway.calls())

	var decoded map[string]map[string]string
	require.NoError(t, json.Unmarshal(gateway.bodies[0], &decoded))
	assert.Len(t, decoded, 2)
	assert.NotContains(t, decoded, "disk")

	rec, err := store.RetrieveSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, "Sent 2 collectors", rec.Info)
}

func TestRunCycleSimulation(t *testing.T) {
	store := newTestStore(t)
	gateway := &fakeGateway{}
	o := NewOrchestrator(newTestRegistry(), store, gateway, WithSimulation(true))

	activate(t, store, map[string]bool{"cpu": true})

	outcome, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSimulated, outcome)
	assert.Equal(t, 0, gateway.calls())
}

func TestSendWithoutGatewayRecordsFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	o := NewOrchestrator(newTestRegistry(), store, nil)

	outcome, err := o.Send(ctx, collector.Result{"cpu": {}}, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	rec, err := store.RetrieveSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, rec.Status)
	assert.Equal(t, noGatewayInfo, rec.Info)
}

func TestRunCycleRecordsSendTimeout(t *testing.T) {
	store := newTestStore(t)
	o := NewOrchestrator(newTestRegistry(), store, stalledGateway{})

	activate(t, store, map[string]bool{"cpu": true})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	outcome, err := o.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	rec, err := store.RetrieveSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, rec.Status)
	assert.Contains(t, rec.Info, "deadline exceeded")
	assert.NotNil(t, rec.SentTimestamp)
}
