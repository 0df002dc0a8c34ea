// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build nats

package events

import (
	"encoding/json"
	"errors"
	"time"
)

// eventEnvelope is the wire representation used by natsBus. Events carry a
// bare `error` field that does not round-trip through JSON, so the
// envelope flattens every event variant into one struct of optional
// fields plus a Type discriminator, instead of marshaling the Event
// interface directly.
type eventEnvelope struct {
	Type       string        `json:"type"`
	At         time.Time     `json:"at"`
	InstanceID uint64        `json:"instance_id,omitempty"`
	Bucket     string        `json:"bucket,omitempty"`
	Severity   string        `json:"severity,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Err        string        `json:"err,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`
	NodeHost   string        `json:"node_host,omitempty"`
	Payload    Event         `json:"-"`
}

func mustEncode(env eventEnvelope) []byte {
	env = flatten(env.Payload, env.Type)
	b, err := json.Marshal(env)
	if err != nil {
		// Envelope fields are all plain scalars; Marshal cannot fail here.
		panic(err)
	}
	return b
}

func flatten(ev Event, typeName string) eventEnvelope {
	env := eventEnvelope{Type: typeName, At: ev.OccurredAt()}
	switch v := ev.(type) {
	case CoreCreated:
		env.InstanceID = v.InstanceID
	case BucketOpenInitiated:
		env.Bucket = v.Bucket
	case BucketOpened:
		env.Bucket = v.Bucket
	case BucketOpenFailed:
		env.Bucket, env.Severity = v.Bucket, v.Severity
		if v.Err != nil {
			env.Err = v.Err.Error()
		}
	case BucketClosed:
		env.Bucket = v.Bucket
	case InitGlobalConfigFailed:
		env.Reason = v.Reason
		if v.Err != nil {
			env.Err = v.Err.Error()
		}
	case ShutdownInitiated:
	case ShutdownCompleted:
		env.TimedOut = v.TimedOut
	case ReconfigurationIgnored:
	case ReconfigurationCompleted:
		env.Elapsed = v.Elapsed
	case ReconfigurationErrorDetected:
		if v.Err != nil {
			env.Err = v.Err.Error()
		}
	case ServiceReconfigurationFailed:
		env.NodeHost = v.NodeHost
		if v.Err != nil {
			env.Err = v.Err.Error()
		}
	}
	return env
}

func decodeEnvelope(payload []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}

	var wireErr error
	if env.Err != "" {
		wireErr = errors.New(env.Err)
	}

	switch env.Type {
	case "CoreCreated":
		return NewCoreCreated(env.At, env.InstanceID), nil
	case "BucketOpenInitiated":
		return NewBucketOpenInitiated(env.At, env.Bucket), nil
	case "BucketOpened":
		return NewBucketOpened(env.At, env.Bucket), nil
	case "BucketOpenFailed":
		return NewBucketOpenFailed(env.At, env.Bucket, wireErr, env.Severity), nil
	case "BucketClosed":
		return NewBucketClosed(env.At, env.Bucket), nil
	case "InitGlobalConfigFailed":
		return NewInitGlobalConfigFailed(env.At, env.Reason, wireErr), nil
	case "ShutdownInitiated":
		return NewShutdownInitiated(env.At), nil
	case "ShutdownCompleted":
		return NewShutdownCompleted(env.At, env.TimedOut), nil
	case "ReconfigurationIgnored":
		return NewReconfigurationIgnored(env.At), nil
	case "ReconfigurationCompleted":
		return NewReconfigurationCompleted(env.At, env.Elapsed), nil
	case "ReconfigurationErrorDetected":
		return NewReconfigurationErrorDetected(env.At, wireErr), nil
	case "ServiceReconfigurationFailed":
		return NewServiceReconfigurationFailed(env.At, env.NodeHost, wireErr), nil
	default:
		return nil, errors.New("events: unknown event type " + env.Type)
	}
}
