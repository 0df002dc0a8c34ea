// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/tomtom215/couchkit/internal/clienterr"
	"github.com/tomtom215/couchkit/internal/clustertopo"
	"github.com/tomtom215/couchkit/internal/logging"
	"github.com/tomtom215/couchkit/internal/request"
)

// maxKeyWireLength is the 250-byte limit on key plus collection prefix,
// shared by every key-value op code.
const maxKeyWireLength = 250

// DurabilityLevel mirrors the wire durability requirement a write may
// carry; zero value means "none requested".
type DurabilityLevel uint8

const (
	DurabilityNone DurabilityLevel = iota
	DurabilityMajority
	DurabilityMajorityAndPersistActive
	DurabilityPersistToMajority
)

func (d DurabilityLevel) String() string {
	switch d {
	case DurabilityMajority:
		return "majority"
	case DurabilityMajorityAndPersistActive:
		return "majority_and_persist_active"
	case DurabilityPersistToMajority:
		return "persist_to_majority"
	default:
		return "none"
	}
}

// Request is the key-value request base every KV operation (get, upsert,
// remove, ...) embeds. It extends request.Request with the key/collection
// encoding the KV locator needs; partition binding reuses the embedded
// Request.Partition field directly (set via BindPartition below).
type Request struct {
	*request.Request

	key        string
	Collection CollectionIdentifier
	Durability DurabilityLevel
}

// New builds a pending KV Request. The key is UTF-8; an empty string
// encodes to an empty byte slice, matching ops (e.g. a bucket-level
// stats call) that carry no document id.
func New(timeout time.Duration, retry request.Strategy, key string, collection CollectionIdentifier, span request.Span) *Request {
	return &Request{
		Request:    request.New(clustertopo.ServiceKeyValue, timeout, retry, span),
		key:        key,
		Collection: collection,
	}
}

// Key returns the request's document key.
func (r *Request) Key() string { return r.key }

// BindPartition stamps the vbucket this request was routed to. Called
// exactly once, by the KV locator, before dispatch.
func (r *Request) BindPartition(partition int16) {
	r.Request.Partition = partition
}

// Dispatchable reports whether this request has been bound to a
// partition and so may be handed to a service for transmission.
func (r *Request) Dispatchable() bool {
	return r.Request.Partition >= 0
}

// EncodedKeyWithCollection produces the on-wire key, prefixed with the
// channel's numeric collection id when the channel has collections
// enabled. Fails synchronously (never dispatches) when:
//   - collections are enabled but the channel has no mapping for this
//     request's collection (*clienterr.CollectionNotFoundError),
//   - collections are disabled and a non-default collection was
//     requested (clienterr.ErrFeatureNotAvailable),
//   - the encoded length (prefix + key) exceeds 250 bytes
//     (*clienterr.KeyLengthError).
func (r *Request) EncodedKeyWithCollection(ch ChannelContext) ([]byte, error) {
	keyBytes := []byte(r.key)

	if ch.CollectionsEnabled() {
		prefix, ok := ch.CollectionPrefix(r.Collection)
		if !ok {
			return nil, &clienterr.CollectionNotFoundError{Collection: collectionLabel(r.Collection)}
		}
		return encodeWithPrefix(prefix, keyBytes)
	}

	if !r.Collection.IsDefault() {
		return nil, fmt.Errorf("%w: non-default collection %s requires collections support",
			clienterr.ErrFeatureNotAvailable, collectionLabel(r.Collection))
	}

	if len(keyBytes) > maxKeyWireLength {
		return nil, &clienterr.KeyLengthError{KeyLen: len(keyBytes)}
	}
	return keyBytes, nil
}

// encodeWithPrefix writes prefix as an unsigned LEB128 varint (the wire
// encoding real collection ids use) followed by key, enforcing the
// combined 250-byte limit before allocating.
func encodeWithPrefix(prefix uint32, key []byte) ([]byte, error) {
	var scratch [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(scratch[:], uint64(prefix))

	if n+len(key) > maxKeyWireLength {
		return nil, &clienterr.KeyLengthError{CollectionPrefixLen: n, KeyLen: len(key)}
	}

	buf := make([]byte, n+len(key))
	copy(buf, scratch[:n])
	copy(buf[n:], key)
	return buf, nil
}

func collectionLabel(id CollectionIdentifier) string {
	return fmt.Sprintf("%s.%s.%s", id.Bucket, id.ScopeName(), id.CollectionName())
}

// ServiceContext reports the structured fields an error or log envelope
// needs to describe this request: service type, opaque id (hex), bucket,
// scope, collection, durability level when set, and the document id.
// The document id is user data: it is never written out in full, only
// through logging.SanitizeToken, so a log line stays useful for
// correlating requests without exposing the key itself.
func (r *Request) ServiceContext() map[string]any {
	ctx := map[string]any{
		"service":     r.ServiceType.String(),
		"opaque":      r.OpaqueHex(),
		"bucket":      r.Collection.Bucket,
		"scope":       r.Collection.ScopeName(),
		"collection":  r.Collection.CollectionName(),
		"document_id": logging.SanitizeToken(r.key),
	}
	if r.Durability != DurabilityNone {
		ctx["durability"] = r.Durability.String()
	}
	return ctx
}
