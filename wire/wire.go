// Package wire defines the JSON frame envelope exchanged between the
// Coordinator and Controller nodes over the experiment WebSocket, and the
// message kinds carried inside it.
package wire

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the payload carried by an Envelope.
type Kind string

const (
	KindRunExperiment   Kind = "RunExperiment"
	KindAbortRunningJob Kind = "AbortRunningJob"
	KindRunResult       Kind = "RunResult"
	KindReceiverStatus  Kind = "ReceiverStatus"
)

// Envelope is the top-level `{kind, data}` wire object. data is kept raw so
// it can be unmarshaled into the concrete type named by Kind.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// RunExperiment is sent Coordinator -> Controller to start a job.
type RunExperiment struct {
	JobID int64  `json:"jobId"`
	Code  string `json:"code"`
}

// AbortRunningJob is sent Coordinator -> Controller to request cooperative
// cancellation of the named job, if it is the one currently running.
type AbortRunningJob struct {
	JobID int64 `json:"jobId"`
}

// RunResult is sent Controller -> Coordinator once a job reaches a terminal
// state and its output has already been uploaded over HTTP.
type RunResult struct {
	JobID      int64 `json:"jobId"`
	Successful bool  `json:"successful"`
}

// ReceiverStatus is sent Controller -> Coordinator on the periodic telemetry
// tick; Values holds one reading per configured receiver device, in path
// order, with 0 standing in for any device a read failed for.
type ReceiverStatus struct {
	Values []uint32 `json:"values"`
}

// Encode wraps a payload in an Envelope and marshals it to JSON bytes.
func Encode(kind Kind, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s payload: %w", kind, err)
	}
	return json.Marshal(Envelope{Kind: kind, Data: data})
}

// Decode parses a raw frame into its Envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env, nil
}

// DecodeRunExperiment unmarshals env.Data as RunExperiment.
func DecodeRunExperiment(env Envelope) (RunExperiment, error) {
	var m RunExperiment
	err := json.Unmarshal(env.Data, &m)
	return m, err
}

// DecodeAbortRunningJob unmarshals env.Data as AbortRunningJob.
func DecodeAbortRunningJob(env Envelope) (AbortRunningJob, error) {
	var m AbortRunningJob
	err := json.Unmarshal(env.Data, &m)
	return m, err
}

// DecodeRunResult unmarshals env.Data as RunResult.
func DecodeRunResult(env Envelope) (RunResult, error) {
	var m RunResult
	err := json.Unmarshal(env.Data, &m)
	return m, err
}

// DecodeReceiverStatus unmarshals env.Data as ReceiverStatus.
func DecodeReceiverStatus(env Envelope) (ReceiverStatus, error) {
	var m ReceiverStatus
	err := json.Unmarshal(env.Data, &m)
	return m, err
}
