package noderuntime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrRecordExists is returned by HandleGetStoreQuote when the node already holds the requested key.
var ErrRecordExists = errors.New("record already exists")

// PeerSignature is the serialized signature a GetClosestPeers responder attaches when SignResult is set.
type PeerSignature []byte

// ClosestPeersQuery mirrors Query::GetClosestPeers from spec §6.
type ClosestPeersQuery struct {
	Key        RecordKey
	NumOfPeers *int
	Range      *uint64
	SignResult bool
}

// ClosestPeersResponse mirrors QueryResponse for GetClosestPeers.
type ClosestPeersResponse struct {
	Peers     []PeerID
	Signature PeerSignature
}

// StoreQuote is the local quoting metrics returned by HandleGetStoreQuote.
type StoreQuote struct {
	Key           RecordKey
	QuotingMetric uint64
	Proofs        map[RecordKey]ChunkProof
}

// Responder answers wire queries against this node's local state. It is the server-side counterpart of
// NetworkDriver's client-side query methods, both backed by the same local record store.
type Responder struct {
	Driver   NetworkDriver
	Sign     func(payload []byte) (PeerSignature, error)
	QuoteFor func(key RecordKey) uint64
}

// HandleGetChunkExistenceProof implements spec §6's responder-side rule: difficulty==1 is a client
// existence check against the single target key; otherwise return proofs for the min(difficulty, K)
// records closest to target.
func (r *Responder) HandleGetChunkExistenceProof(ctx context.Context, target RecordKey, nonce []byte, difficulty int) (map[RecordKey]ChunkProof, error) {
	records, err := r.Driver.LocalChunkRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("list local chunk records: %w", err)
	}

	if difficulty == 1 {
		for _, rec := range records {
			if rec.Key == target {
				return map[RecordKey]ChunkProof{target: r.Driver.ComputeProof(rec, nonce)}, nil
			}
		}
		return map[RecordKey]ChunkProof{}, nil
	}

	sort.Slice(records, func(i, j int) bool {
		return r.Driver.DistanceFrom(target, records[i].Key) < r.Driver.DistanceFrom(target, records[j].Key)
	})

	n := difficulty
	if n > CloseGroupSize {
		n = CloseGroupSize
	}
	if n > len(records) {
		n = len(records)
	}

	proofs := make(map[RecordKey]ChunkProof, n)
	for _, rec := range records[:n] {
		proofs[rec.Key] = r.Driver.ComputeProof(rec, nonce)
	}
	return proofs, nil
}

// HandleGetClosestPeers implements spec §6's selection rule: an explicit range returns every peer within
// that distance unsorted; otherwise an explicit count returns the k closest sorted by distance; with
// neither, the response is empty.
func (r *Responder) HandleGetClosestPeers(ctx context.Context, q ClosestPeersQuery) (*ClosestPeersResponse, error) {
	var peers []PeerID

	switch {
	case q.Range != nil:
		// A distance range has no fixed cardinality, so ask the driver for every peer it knows about
		// rather than a bounded candidate pool; ClosestPeers already caps at however many it actually has.
		candidates, err := r.Driver.ClosestPeers(ctx, q.Key, math.MaxInt)
		if err != nil {
			return nil, fmt.Errorf("get closest peers: %w", err)
		}
		for _, p := range candidates {
			if r.Driver.DistanceFrom(q.Key, RecordKey(p)) <= *q.Range {
				peers = append(peers, p)
			}
		}
	case q.NumOfPeers != nil:
		k := *q.NumOfPeers
		found, err := r.Driver.ClosestPeers(ctx, q.Key, k)
		if err != nil {
			return nil, fmt.Errorf("get closest peers: %w", err)
		}
		peers = found
	default:
		peers = nil
	}

	resp := &ClosestPeersResponse{Peers: peers}
	if q.SignResult {
		if r.Sign == nil {
			return nil, errors.New("sign_result requested but no signer configured")
		}
		sig, err := r.Sign(encodeClosestPeersPayload(q.Key, peers))
		if err != nil {
			return nil, fmt.Errorf("sign closest-peers response: %w", err)
		}
		resp.Signature = sig
	}
	return resp, nil
}

// HandleGetStoreQuote implements spec §6's store-quote rule: already-stored keys return ErrRecordExists;
// otherwise the local quoting metric is returned, and if nonce is set, proofs for the min(difficulty, K)
// stored chunk records closest to key are embedded alongside it.
func (r *Responder) HandleGetStoreQuote(ctx context.Context, key RecordKey, nonce []byte, difficulty int) (*StoreQuote, error) {
	records, err := r.Driver.LocalChunkRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("list local chunk records: %w", err)
	}
	for _, rec := range records {
		if rec.Key == key {
			return nil, ErrRecordExists
		}
	}

	quote := &StoreQuote{Key: key, QuotingMetric: r.QuoteFor(key)}
	if nonce == nil {
		return quote, nil
	}

	sort.Slice(records, func(i, j int) bool {
		return r.Driver.DistanceFrom(key, records[i].Key) < r.Driver.DistanceFrom(key, records[j].Key)
	})
	n := difficulty
	if n > CloseGroupSize {
		n = CloseGroupSize
	}
	if n > len(records) {
		n = len(records)
	}

	quote.Proofs = make(map[RecordKey]ChunkProof, n)
	for _, rec := range records[:n] {
		quote.Proofs[rec.Key] = r.Driver.ComputeProof(rec, nonce)
	}
	return quote, nil
}

func encodeClosestPeersPayload(target RecordKey, peers []PeerID) []byte {
	payload := []byte(target)
	for _, p := range peers {
		payload = append(payload, []byte(p)...)
	}
	return payload
}
