// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/couchkit/internal/clienterr"
	"github.com/tomtom215/couchkit/internal/request"
)

func defaultCollection() CollectionIdentifier {
	return CollectionIdentifier{Bucket: "travel-sample"}
}

func TestEncodedKeyWithCollectionsDisabledDefaultCollection(t *testing.T) {
	r := New(time.Second, request.NoRetry{}, "user:42", defaultCollection(), nil)

	got, err := r.EncodedKeyWithCollection(StaticChannelContext{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "user:42" {
		t.Errorf("got %q, want %q", got, "user:42")
	}
}

func TestEncodedKeyWithCollectionsDisabledNonDefaultFails(t *testing.T) {
	coll := CollectionIdentifier{Bucket: "travel-sample", Scope: "inventory", Collection: "airline"}
	r := New(time.Second, request.NoRetry{}, "AF", coll, nil)

	_, err := r.EncodedKeyWithCollection(StaticChannelContext{Enabled: false})
	if !errors.Is(err, clienterr.ErrFeatureNotAvailable) {
		t.Fatalf("err = %v, want ErrFeatureNotAvailable", err)
	}
}

func TestEncodedKeyWithCollectionsEnabledUnknownCollection(t *testing.T) {
	coll := CollectionIdentifier{Bucket: "travel-sample", Scope: "inventory", Collection: "airline"}
	r := New(time.Second, request.NoRetry{}, "AF", coll, nil)

	_, err := r.EncodedKeyWithCollection(StaticChannelContext{Enabled: true})
	var notFound *clienterr.CollectionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want *CollectionNotFoundError", err)
	}
}

func TestEncodedKeyWithCollectionsEnabledKnownCollection(t *testing.T) {
	coll := CollectionIdentifier{Bucket: "travel-sample", Scope: "inventory", Collection: "airline"}
	r := New(time.Second, request.NoRetry{}, "AF", coll, nil)

	ch := StaticChannelContext{
		Enabled:     true,
		Collections: map[CollectionIdentifier]uint32{coll: 9},
	}

	got, err := r.EncodedKeyWithCollection(ch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Prefix 9 fits in a single LEB128 byte (0x09), followed by the key.
	if len(got) != 1+len("AF") || got[0] != 9 {
		t.Errorf("got %v, want a single-byte prefix 9 followed by the key", got)
	}
}

func TestEncodedKeyTooLongFails(t *testing.T) {
	// A 250-byte key plus any nonzero collection prefix always exceeds the
	// 250-byte combined limit.
	longKey := strings.Repeat("a", 250)
	coll := CollectionIdentifier{Bucket: "travel-sample", Scope: "inventory", Collection: "airline"}
	r := New(time.Second, request.NoRetry{}, longKey, coll, nil)

	ch := StaticChannelContext{
		Enabled:     true,
		Collections: map[CollectionIdentifier]uint32{coll: 9},
	}

	_, err := r.EncodedKeyWithCollection(ch)
	var lenErr *clienterr.KeyLengthError
	if !errors.As(err, &lenErr) {
		t.Fatalf("err = %v, want *KeyLengthError", err)
	}
}

func TestEncodedKeyExactly250BytesSucceeds(t *testing.T) {
	key := strings.Repeat("a", 250)
	r := New(time.Second, request.NoRetry{}, key, defaultCollection(), nil)

	got, err := r.EncodedKeyWithCollection(StaticChannelContext{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error at exactly 250 bytes: %v", err)
	}
	if len(got) != 250 {
		t.Errorf("len(got) = %d, want 250", len(got))
	}
}

func TestBindPartitionMarksDispatchable(t *testing.T) {
	r := New(time.Second, request.NoRetry{}, "user:42", defaultCollection(), nil)

	if r.Dispatchable() {
		t.Error("a freshly constructed request should not be dispatchable")
	}

	r.BindPartition(17)
	if !r.Dispatchable() {
		t.Error("expected the request to be dispatchable once a partition is bound")
	}
	if r.Request.Partition != 17 {
		t.Errorf("Partition = %d, want 17", r.Request.Partition)
	}
}

func TestServiceContextIncludesDurabilityOnlyWhenSet(t *testing.T) {
	r := New(time.Second, request.NoRetry{}, "user:42", defaultCollection(), nil)

	ctx := r.ServiceContext()
	if _, ok := ctx["durability"]; ok {
		t.Error("durability should be omitted when not requested")
	}

	r.Durability = DurabilityMajority
	ctx = r.ServiceContext()
	if ctx["durability"] != "majority" {
		t.Errorf("durability = %v, want majority", ctx["durability"])
	}
	if ctx["bucket"] != "travel-sample" {
		t.Errorf("bucket = %v, want travel-sample", ctx["bucket"])
	}
}

func TestServiceContextRedactsDocumentID(t *testing.T) {
	key := "customer-order-00981234"
	r := New(time.Second, request.NoRetry{}, key, defaultCollection(), nil)

	ctx := r.ServiceContext()
	id, ok := ctx["document_id"]
	if !ok {
		t.Fatal("expected document_id present in ServiceContext")
	}
	if id == key {
		t.Error("document_id must be redacted, not the raw key")
	}
	if id != "cust...1234" {
		t.Errorf("document_id = %v, want cust...1234", id)
	}
}
