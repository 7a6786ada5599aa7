package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"codeberg.org/mutker/hmsd/internal/collector"
	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/logger"
)

// Gateway delivers an encoded payload to the collection endpoint. A nil
// error means the endpoint accepted it.
type Gateway interface {
	Send(ctx context.Context, body []byte) error
}

// Recorder observes cycle outcomes; *metrics.Recorder implements it
type Recorder interface {
	CollectorFailed(id string)
	SendCompleted(outcome string)
}

// Outcome summarizes one cycle
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeSent      Outcome = "sent"
	OutcomeSimulated Outcome = "simulated"
	OutcomeFailed    Outcome = "failed"
)

const noGatewayInfo = "No telemetry endpoint configured"

// Status writes outlive the cycle deadline so a timed out or cancelled send
// is still recorded.
const statusWriteTimeout = 5 * time.Second

type noopRecorder struct{}

func (noopRecorder) CollectorFailed(string) {}
func (noopRecorder) SendCompleted(string)   {}

// Orchestrator runs one collect-and-send cycle against a fixed registry
type Orchestrator struct {
	registry   *collector.Registry
	store      *Store
	gateway    Gateway
	simulation bool
	recorder   Recorder
}

type OrchestratorOption func(*Orchestrator)

// WithSimulation makes RunCycle skip the network and record success
func WithSimulation(enabled bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.simulation = enabled
	}
}

func WithRecorder(r Recorder) OrchestratorOption {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

func NewOrchestrator(registry *collector.Registry, store *Store, gateway Gateway, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		store:    store,
		gateway:  gateway,
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RetrieveDataToSend collects every consented facet, leaving out collectors
// that fail.
func (o *Orchestrator) RetrieveDataToSend(ctx context.Context, consent map[string]bool) (collector.Result, error) {
	ids := make([]string, 0, len(consent))
	for id, ok := range consent {
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	result, err := o.registry.CollectMany(ctx, ids, true)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, ok := result[id]; !ok && o.registry.Has(id) {
			o.recorder.CollectorFailed(id)
		}
	}

	return result, nil
}

// Send encodes payload and delivers it unless simulation is set. The
// delivery outcome is recorded on the stored record; only encoding and
// storage failures are returned.
func (o *Orchestrator) Send(ctx context.Context, payload collector.Result, simulation bool) (Outcome, error) {
	errFactory := errors.New()

	if payload == nil {
		payload = collector.Result{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return OutcomeFailed, errFactory.Wrap(ErrEncodePayload, err)
	}

	if simulation {
		logger.Info().Int("bytes", len(body)).Msg("Simulation mode, telemetry payload not sent")
		o.recorder.SendCompleted(string(OutcomeSimulated))
		return OutcomeSimulated, o.recordStatus(ctx, StatusSuccess,
			fmt.Sprintf("Simulated send of %d collectors", len(payload)))
	}

	if o.gateway == nil {
		logger.Warn().Msg("No telemetry endpoint configured, payload not sent")
		o.recorder.SendCompleted(string(OutcomeFailed))
		return OutcomeFailed, o.recordStatus(ctx, StatusFailure, noGatewayInfo)
	}

	if err := o.gateway.Send(ctx, body); err != nil {
		logger.Warn().Err(err).Msg("Telemetry send failed")
		o.recorder.SendCompleted(string(OutcomeFailed))
		return OutcomeFailed, o.recordStatus(ctx, StatusFailure, err.Error())
	}

	logger.Info().Int("collectors", len(payload)).Int("bytes", len(body)).Msg("Telemetry sent")
	o.recorder.SendCompleted(string(OutcomeSent))

	return OutcomeSent, o.recordStatus(ctx, StatusSuccess,
		fmt.Sprintf("Sent %d collectors", len(payload)))
}

func (o *Orchestrator) recordStatus(ctx context.Context, status Status, info string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	if status == StatusFailure {
		return o.store.UpdateStatusFail(ctx, info)
	}
	return o.store.UpdateStatusSuccess(ctx, info)
}

// RunCycle performs one collect, send and record-status pass when the
// stored record is active.
func (o *Orchestrator) RunCycle(ctx context.Context) (Outcome, error) {
	rec, err := o.store.RetrieveSettings(ctx)
	if errors.HasCode(err, ErrSettingsNotFound) {
		logger.Debug().Msg("Telemetry not configured, skipping cycle")
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}
	if !rec.Active {
		logger.Debug().Msg("Telemetry inactive, skipping cycle")
		return OutcomeSkipped, nil
	}

	payload, err := o.RetrieveDataToSend(ctx, rec.Consent)
	if err != nil {
		return OutcomeFailed, err
	}

	return o.Send(ctx, payload, o.simulation)
}
