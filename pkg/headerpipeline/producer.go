// Block production loop: a ticker-driven service that starts a round at
// each block-time interval, proposes when this node wins leadership, and
// finalizes via the pipeline's commit threshold. In a multi-node
// deployment proposals and votes also arrive over the transport; the
// loop here drives the rounds this node can complete with the keys it
// holds, which in a devnet single-validator setup is all of them.
package headerpipeline

import (
	"crypto/ed25519"
	"log"
	"sync"
	"time"
)

// Producer owns the block-time ticker and the chain tip it extends.
type Producer struct {
	pipeline  *Pipeline
	blockTime time.Duration
	selfIndex uint32
	vrfKeys   map[uint32]ed25519.PrivateKey
	logger    *log.Logger

	// OnFinalize, when set, observes every header this producer
	// finalizes. Called outside the producer's lock.
	OnFinalize func(*Header)

	mu       sync.Mutex
	prevHash [32]byte
	height   uint64
	round    uint32

	quit chan struct{}
	done chan struct{}
}

// NewProducer constructs a Producer extending the chain from (genesisHash,
// startHeight). vrfKeys holds the VRF private keys locally available for
// leader election, keyed by validator index.
func NewProducer(p *Pipeline, blockTime time.Duration, selfIndex uint32, vrfKeys map[uint32]ed25519.PrivateKey, genesisHash [32]byte, startHeight uint64, logger *log.Logger) *Producer {
	if logger == nil {
		logger = log.New(log.Writer(), "[Producer] ", log.LstdFlags)
	}
	return &Producer{
		pipeline:  p,
		blockTime: blockTime,
		selfIndex: selfIndex,
		vrfKeys:   vrfKeys,
		logger:    logger,
		prevHash:  genesisHash,
		height:    startHeight,
	}
}

// Start begins the production loop in a background goroutine.
func (pr *Producer) Start() {
	if pr.quit != nil {
		return
	}
	pr.quit = make(chan struct{})
	pr.done = make(chan struct{})
	go pr.loop()
}

// Stop shuts the loop down and waits for the in-flight tick to drain,
// honoring the stop-accepting/drain/release shutdown sequence.
func (pr *Producer) Stop() {
	if pr.quit == nil {
		return
	}
	close(pr.quit)
	<-pr.done
	pr.quit = nil
}

// Tip returns the current chain tip this producer extends from.
func (pr *Producer) Tip() ([32]byte, uint64) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.prevHash, pr.height
}

func (pr *Producer) loop() {
	defer close(pr.done)
	ticker := time.NewTicker(pr.blockTime)
	defer ticker.Stop()
	for {
		select {
		case <-pr.quit:
			return
		case <-ticker.C:
			pr.produceOne(time.Now())
		}
	}
}

// produceOne runs a single round attempt at the next height. Failures
// advance the round number without advancing height; a completed round
// advances the tip.
func (pr *Producer) produceOne(now time.Time) {
	pr.mu.Lock()
	prevHash, nextHeight, round := pr.prevHash, pr.height+1, pr.round
	pr.mu.Unlock()

	r, err := pr.pipeline.StartRound(prevHash, nextHeight, round, pr.vrfKeys)
	if err != nil {
		// No local winner or capacity reached: advance the round so the
		// next tick re-elects under a fresh (height, round) seed.
		pr.mu.Lock()
		pr.round++
		pr.mu.Unlock()
		return
	}

	if _, ok := pr.vrfKeys[r.LeaderIndex]; !ok {
		// Another node leads this round; its proposal arrives over the
		// transport. Let the round-timeout path reclaim it if it never does.
		if _, failed := pr.pipeline.CheckTimeout(nextHeight, now.Add(pr.pipeline.RoundTimeout)); failed {
			pr.mu.Lock()
			pr.round++
			pr.mu.Unlock()
		}
		return
	}

	header := &Header{
		Version:          1,
		Height:           nextHeight,
		PrevHash:         prevHash,
		ValidatorSetHash: pr.pipeline.Validators.Hash(),
		Mode:             ModeNormal,
		Round:            r.RoundNumber,
		Timestamp:        now,
	}
	proposal := &BlockProposal{
		Round:         r.RoundNumber,
		BlockHash:     header.SigningHash(),
		ProposerIndex: r.LeaderIndex,
	}
	if err := pr.pipeline.SubmitProposal(nextHeight, proposal); err != nil {
		pr.logger.Printf("proposal rejected at height %d: %v", nextHeight, err)
		return
	}

	// Commit with every validator whose key this node holds; the round
	// completes once their combined stake crosses two thirds.
	for idx := range pr.vrfKeys {
		vote := &Vote{Kind: VoteCommit, Height: nextHeight, Round: r.RoundNumber, BlockHash: proposal.BlockHash, ValidatorIndex: idx}
		if _, err := pr.pipeline.SubmitCommit(nextHeight, vote); err != nil {
			pr.logger.Printf("commit rejected at height %d: %v", nextHeight, err)
			return
		}
		if rr, ok := pr.pipeline.RoundAt(nextHeight); !ok || rr.Status == StatusCompleted {
			break
		}
	}

	if rr, ok := pr.pipeline.RoundAt(nextHeight); ok && rr.Status != StatusCompleted {
		// Not enough locally-held stake committed; leave the round for
		// transport votes or the timeout path.
		return
	}

	pr.mu.Lock()
	pr.prevHash = proposal.BlockHash
	pr.height = nextHeight
	pr.round = 0
	pr.mu.Unlock()

	if pr.OnFinalize != nil {
		pr.OnFinalize(header)
	}
}
