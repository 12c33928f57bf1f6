// Package noderuntime implements the control loops embedded in each installed node process: record
// replication, uptime metrics, stale-record cleanup, and the storage-challenge scoring algorithm. Its
// cadence is part of the observable contract even though it runs inside the node binary rather than the
// manager.
package noderuntime

import (
	"context"
	"math/rand"
	"time"
)

// PeerID identifies a network participant. The concrete encoding is owned by the P2P record store, an
// external collaborator; NetworkDriver implementations only need to compare and distance-sort it.
type PeerID string

// RecordKey identifies a stored record by its content address.
type RecordKey string

// ChunkProof is the opaque proof a node computes over a stored chunk and a caller-supplied nonce.
type ChunkProof []byte

// StoredRecord is the subset of a local record's metadata the storage-challenge loop needs.
type StoredRecord struct {
	Key   RecordKey
	Value []byte
	Kind  RecordKind
}

type RecordKind int

const (
	RecordKindChunk RecordKind = iota
	RecordKindRegister
)

// ProofResult is one peer's answer to a GetChunkExistenceProof query, or the error it failed with.
type ProofResult struct {
	Peer  PeerID
	Proof ChunkProof
	Err   error
}

// NetworkDriver is the network/storage substrate the control loops drive. It is implemented by the P2P
// record store and transport layer, both external collaborators; NetworkDriver is the seam this package
// specifies against.
type NetworkDriver interface {
	// ClosestPeers returns the k closest peers to key, sorted by ascending distance.
	ClosestPeers(ctx context.Context, key RecordKey, k int) ([]PeerID, error)
	// LocalChunkRecords returns every locally stored chunk-typed record.
	LocalChunkRecords(ctx context.Context) ([]StoredRecord, error)
	// DistanceToSelf returns a record key's XOR distance from this node's own ID, as an opaque
	// monotonic ordering key (smaller means closer).
	DistanceToSelf(key RecordKey) uint64
	// DistanceFrom returns a record key's distance from another key, same ordering convention.
	DistanceFrom(from, key RecordKey) uint64
	// ComputeProof computes this node's own proof for a stored record under nonce.
	ComputeProof(record StoredRecord, nonce []byte) ChunkProof
	// QueryChunkExistenceProof asks peer for proofs of difficulty records closest to target under nonce.
	QueryChunkExistenceProof(ctx context.Context, peer PeerID, target RecordKey, nonce []byte, difficulty int) ([]ProofResult, error)
	// ReplicateToRoutingTable triggers replication of local records to every routing-table peer.
	ReplicateToRoutingTable(ctx context.Context) error
	// DeleteIrrelevantRecords removes local records outside this node's responsibility range.
	DeleteIrrelevantRecords(ctx context.Context) error
	// RecordIssue records a FailedChunkProofCheck (or other) issue against a peer.
	RecordIssue(peer PeerID, kind IssueKind)
	// Uptime returns how long this process has been running.
	Uptime() time.Duration
	// SetUptimeGauge publishes the current uptime as a metric.
	SetUptimeGauge(d time.Duration)
}

type IssueKind string

const IssueFailedChunkProofCheck IssueKind = "FailedChunkProofCheck"

// CloseGroupSize is K, the number of peers quizzed per storage challenge and the difficulty of each
// challenge (the challenger asks for proofs of its K closest candidates to the chosen target).
const CloseGroupSize = 8

// minCandidatePool is the minimum number of local chunk records required before a storage challenge will
// run; below this the loop skips the round rather than challenging over a thin candidate set.
const minCandidatePool = 50

// randomizedFirstFire returns a duration in [period/2, period), per §4.8's desynchronization rule: every
// ticker's first fire is randomized so that neighbouring nodes don't all tick in lockstep.
func randomizedFirstFire(period time.Duration) time.Duration {
	half := period / 2
	return half + time.Duration(rand.Int63n(int64(half)))
}
