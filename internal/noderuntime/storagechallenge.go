package noderuntime

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maidsafe/ant-node-manager/internal/secret"
)

// combinedScoreThreshold is the pass/fail line for a storage-challenge response: a combined score below
// this records a FailedChunkProofCheck issue against the peer.
const combinedScoreThreshold = 5000

// nonceSize is the length in bytes of a storage-challenge nonce.
const nonceSize = 32

// RunStorageChallenge implements spec §4.8's storage-challenge algorithm: pick a target among locally
// held chunks, quiz the K closest peers for existence proofs over the K closest candidates to that
// target, and score each peer's response.
func RunStorageChallenge(ctx context.Context, driver NetworkDriver) error {
	target, nonce, expected, err := pickChallenge(ctx, driver)
	if err != nil {
		return err
	}
	if target == nil {
		// Too few candidates; skip this round.
		return nil
	}

	peers, err := driver.ClosestPeers(ctx, *target, CloseGroupSize)
	if err != nil {
		return fmt.Errorf("get closest peers: %w", err)
	}
	if len(peers) < CloseGroupSize {
		// Too few peers to quiz; skip this round.
		return nil
	}

	// The same nonce used to compute each expected proof is sent to peers, so the answers are directly
	// comparable to pickChallenge's expected set.
	results := queryPeers(ctx, driver, peers, *target, nonce, len(expected))

	for peer, elapsed := range results.elapsed {
		score := scoreResponse(elapsed, results.answers[peer], expected)
		if score < combinedScoreThreshold {
			driver.RecordIssue(peer, IssueFailedChunkProofCheck)
		}
	}
	return nil
}

// pickChallenge selects the target record, the nonce the expected proofs (and the outgoing query) are
// computed under, and the expected-answer set. It returns a nil target when the round should be skipped
// (too few candidates).
func pickChallenge(ctx context.Context, driver NetworkDriver) (*RecordKey, []byte, map[PeerID]ChunkProof, error) {
	records, err := driver.LocalChunkRecords(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list local chunk records: %w", err)
	}
	if len(records) < minCandidatePool {
		return nil, nil, nil, nil
	}

	sort.Slice(records, func(i, j int) bool {
		return driver.DistanceToSelf(records[i].Key) < driver.DistanceToSelf(records[j].Key)
	})

	closerHalf := len(records) / 2
	idx, err := randomIndex(closerHalf)
	if err != nil {
		return nil, nil, nil, err
	}
	target := records[idx].Key

	sort.Slice(records, func(i, j int) bool {
		return driver.DistanceFrom(target, records[i].Key) < driver.DistanceFrom(target, records[j].Key)
	})

	difficulty := CloseGroupSize
	if difficulty > len(records) {
		difficulty = len(records)
	}
	candidates := records[:difficulty]

	nonce, err := secret.New(nonceSize)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("generate challenge nonce: %w", err)
	}

	expected := make(map[PeerID]ChunkProof, len(candidates))
	for _, rec := range candidates {
		// Expected proofs are keyed by record, not by peer; scoreResponse looks each returned proof up by
		// the record key carried in its ProofResult.Peer field.
		expected[PeerID(rec.Key)] = driver.ComputeProof(rec, nonce)
	}

	return &target, nonce, expected, nil
}

func randomIndex(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("pick random challenge target: %w", err)
	}
	return int(v.Int64()), nil
}

type challengeResults struct {
	elapsed map[PeerID]float64 // milliseconds
	answers map[PeerID][]ProofResult
}

// queryPeers sends GetChunkExistenceProof to every peer concurrently and collects timing and answers.
func queryPeers(ctx context.Context, driver NetworkDriver, peers []PeerID, target RecordKey, nonce []byte, difficulty int) challengeResults {
	results := challengeResults{
		elapsed: make(map[PeerID]float64, len(peers)),
		answers: make(map[PeerID][]ProofResult, len(peers)),
	}

	type outcome struct {
		peer    PeerID
		elapsed float64
		answers []ProofResult
	}
	out := make(chan outcome, len(peers))

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			start := time.Now()
			answers, err := driver.QueryChunkExistenceProof(gctx, peer, target, nonce, difficulty)
			elapsed := float64(time.Since(start).Milliseconds())
			if err != nil {
				answers = nil
			}
			out <- outcome{peer: peer, elapsed: elapsed, answers: answers}
			return nil
		})
	}
	_ = g.Wait()
	close(out)

	for o := range out {
		results.elapsed[o.peer] = o.elapsed
		results.answers[o.peer] = o.answers
	}
	return results
}

// scoreResponse implements spec §4.8 step 6: duration_score * challenge_score, each capped at 100, for a
// combined ceiling of 10000.
func scoreResponse(elapsedMs float64, answers []ProofResult, expected map[PeerID]ChunkProof) float64 {
	durationScore := math.Max(0, 100-elapsedMs/20)
	if durationScore > 100 {
		durationScore = 100
	}

	if len(expected) == 0 {
		return durationScore * 100
	}

	correct := 0
	for _, a := range answers {
		want, ok := expected[a.Peer]
		if !ok {
			continue
		}
		if a.Err != nil || string(a.Proof) != string(want) {
			return 0
		}
		correct++
	}

	challengeScore := math.Min(100, 100*float64(correct)/float64(len(expected)))
	return durationScore * challengeScore
}
