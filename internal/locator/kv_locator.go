// SPDX-License-Identifier: AGPL-3.0-or-later

package locator

import (
	"fmt"
	"hash/crc32"

	"github.com/tomtom215/couchkit/internal/clienterr"
	"github.com/tomtom215/couchkit/internal/clustertopo"
	"github.com/tomtom215/couchkit/internal/kv"
	"github.com/tomtom215/couchkit/internal/request"
)

// KeyValueLocator routes a kv.Request by hashing its key into a vbucket
// and following the bucket's VBucketMap to the owning node. No
// third-party CRC32 implementation appears anywhere in the retrieved
// pack, and the algorithm is a one-line stdlib call, so hash/crc32 is
// used directly rather than adding a dependency for it.
type KeyValueLocator struct{}

// NewKeyValueLocator returns a ready KeyValueLocator. Stateless: every
// field it needs (bucket config, live nodes) arrives as a Dispatch
// argument.
func NewKeyValueLocator() *KeyValueLocator { return &KeyValueLocator{} }

// Dispatch implements Locator.
func (l *KeyValueLocator) Dispatch(cc *request.CoreContext, req any, nodes Snapshot, cfg *clustertopo.ClusterConfig) error {
	kr, ok := req.(*kv.Request)
	if !ok {
		return fmt.Errorf("%w: keyvalue locator received %T, want *kv.Request", clienterr.ErrInvalidArgument, req)
	}
	return l.dispatch(cc, kr, nodes, cfg)
}

func (l *KeyValueLocator) dispatch(cc *request.CoreContext, kr *kv.Request, nodes Snapshot, cfg *clustertopo.ClusterConfig) error {
	redispatch := func() { _ = l.dispatch(cc, kr, nodes, cfg) }

	if cfg == nil {
		return l.fail(cc, kr, clienterr.ErrBucketConfigAbsent, redispatch)
	}
	bucketCfg, ok := cfg.Buckets[kr.Collection.Bucket]
	if !ok {
		return l.fail(cc, kr, clienterr.ErrBucketConfigAbsent, redispatch)
	}

	partition := PartitionForKey(kr.Key(), bucketCfg.VBuckets.NumPartitions())
	kr.BindPartition(partition)

	idx, ok := bucketCfg.VBuckets.ActiveNodeIndex(int(partition))
	if !ok || idx >= len(bucketCfg.BucketNodes) {
		return l.fail(cc, kr, clienterr.ErrNoNodeForPartition, redispatch)
	}

	nodeInfo := bucketCfg.BucketNodes[idx]
	liveNode, ok := nodes[nodeInfo.ID]
	if !ok {
		return l.fail(cc, kr, clienterr.ErrNoNodeForService, redispatch)
	}

	svc, ok := liveNode.Service(clustertopo.ServiceKeyValue, kr.Collection.Bucket)
	if !ok {
		return l.fail(cc, kr, clienterr.ErrNoNodeForService, redispatch)
	}

	if !kr.MarkDispatched() {
		// Already completed, cancelled, or dispatched elsewhere; nothing
		// further to do.
		return nil
	}

	return svc.Send(kr)
}

func (l *KeyValueLocator) fail(cc *request.CoreContext, kr *kv.Request, cause error, redispatch func()) error {
	if retryOrGiveUp(cc, kr.Request, cause, redispatch) {
		return nil
	}
	return cause
}

// PartitionForKey computes the vbucket a key hashes to: CRC32(key) mod
// numPartitions. Returns 0 when numPartitions is 0 (no vbucket map yet),
// which callers must treat as "not yet resolvable" via ActiveNodeIndex's
// own bounds check rather than trusting partition 0 to be meaningful.
func PartitionForKey(key string, numPartitions int) int16 {
	if numPartitions <= 0 {
		return 0
	}
	sum := crc32.ChecksumIEEE([]byte(key))
	return int16(sum % uint32(numPartitions))
}
