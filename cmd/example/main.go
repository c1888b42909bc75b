// Command example walks through the full VeilDB flow: admit two external
// encrypted bids, compute on them without ever seeing plaintext, privately
// reveal a loser's bid to its owner and publicly reveal the settlement.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"time"

	veildb "github.com/veil-db/veildb"
	"github.com/veil-db/veildb/internal/config"
	"github.com/veil-db/veildb/internal/coprocmock"
	"github.com/veil-db/veildb/pkg/logging"
	"github.com/veil-db/veildb/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	conf := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %s", err)
		}
		conf = loaded
	}

	fmt.Println("Starting VeilDB example")

	absPath, _ := filepath.Abs(filepath.Join(conf.DataDir, time.Now().Format("20060102-150405")))

	// The mock coprocessor plays both the proving client and the relayer.
	coproc := coprocmock.New("example-secret")

	db, err := veildb.New(veildb.Config{
		Paths:         []string{absPath},
		MinimumFreeGB: conf.MinimumFreeGB,
		EvalWorkers:   conf.EvalWorkers,
		Logger:        logging.Default(),
		Coprocessor:   coproc,
	})
	if err != nil {
		log.Fatalf("Failed to initialize VeilDB: %s", err)
	}

	ctx := context.Background()
	if err := db.Start(ctx); err != nil {
		log.Fatalf("Failed to start VeilDB: %s", err)
	}
	defer db.CloseWithoutContext()

	auction := types.Principal("auction-house")
	alice := types.Principal("alice")
	bob := types.Principal("bob")

	// Alice and Bob each encrypt a bid client-side and submit it with a
	// proof binding the ciphertext to (auction-house, bidder).
	aliceBid := admitBid(ctx, db, coproc, auction, alice, 400)
	bobBid := admitBid(ctx, db, coproc, auction, bob, 250)

	// The auction house needs Compute on every operand it composes.
	mustGrant(ctx, db, aliceBid, auction, types.CapCompute)
	mustGrant(ctx, db, bobBid, auction, types.CapCompute)

	// winner = select(aliceBid >= bobBid, aliceBid, bobBid); no branch on
	// the encrypted comparison ever happens in this process.
	cmp, err := db.Apply(ctx, auction, types.OpGe, []types.HandleID{aliceBid, bobBid})
	if err != nil {
		log.Fatalf("Failed to compare bids: %s", err)
	}
	mustGrant(ctx, db, cmp, auction, types.CapCompute)

	winner, err := db.Apply(ctx, auction, types.OpSelect, []types.HandleID{cmp, aliceBid, bobBid})
	if err != nil {
		log.Fatalf("Failed to select winner: %s", err)
	}

	if err := db.Flush(ctx); err != nil {
		log.Fatalf("Failed to flush evaluations: %s", err)
	}

	// Private path: Bob may see his own bid back.
	mustGrant(ctx, db, bobBid, bob, types.CapDecrypt)
	requestID, err := db.RequestDecrypt(ctx, bobBid, bob)
	if err != nil {
		log.Fatalf("Failed to request decrypt: %s", err)
	}

	// A relayer would watch PendingReveals out-of-band; here we play it
	// inline.
	pending, err := db.PendingReveals(ctx)
	if err != nil {
		log.Fatalf("Failed to list pending reveals: %s", err)
	}
	for _, record := range pending {
		ciphertext, err := db.CiphertextOf(ctx, record.Handle)
		if err != nil {
			log.Fatalf("Failed to load ciphertext: %s", err)
		}
		plaintext, err := coproc.Decrypt(ctx, record.Handle, ciphertext)
		if err != nil {
			log.Fatalf("Relayer decryption failed: %s", err)
		}
		if err := db.Fulfill(ctx, record.ID, record.Requester, plaintext); err != nil {
			log.Fatalf("Failed to fulfill reveal: %s", err)
		}
	}

	status, err := db.RevealStatus(ctx, requestID)
	if err != nil {
		log.Fatalf("Failed to query reveal status: %s", err)
	}
	fmt.Printf("Bob's private reveal: state=%s value=%d\n",
		status.State, coprocmock.DecodeValue(status.Plaintext))

	// Public path: the settlement is meant to become common knowledge.
	winnerCipher, err := db.CiphertextOf(ctx, winner)
	if err != nil {
		log.Fatalf("Failed to load winner ciphertext: %s", err)
	}
	winnerPlain, err := coproc.Decrypt(ctx, winner, winnerCipher)
	if err != nil {
		log.Fatalf("Relayer decryption failed: %s", err)
	}
	if _, err := db.RevealPublic(ctx, winner, winnerPlain); err != nil {
		log.Fatalf("Failed to reveal publicly: %s", err)
	}

	public, err := db.PublicPlaintext(ctx, winner)
	if err != nil {
		log.Fatalf("Failed to read public plaintext: %s", err)
	}
	fmt.Printf("Winning bid (public): %d\n", coprocmock.DecodeValue(public))

	handles, _ := db.ListHandles(ctx)
	fmt.Printf("Registry holds %d handles\n", len(handles))
}

func admitBid(ctx context.Context, db *veildb.VeilDB, coproc *coprocmock.Coprocessor, subject, bidder types.Principal, bid uint64) types.HandleID {
	ciphertext, err := coproc.Encrypt(bid, types.Width32)
	if err != nil {
		log.Fatalf("Failed to encrypt bid: %s", err)
	}
	bound := types.BindingContext{Subject: subject, Actor: bidder}
	proof := coproc.Prove(ciphertext, bound, types.Width32)

	id, err := db.AdmitExternal(ctx, ciphertext, proof, bound)
	if err != nil {
		log.Fatalf("Failed to admit bid: %s", err)
	}
	return id
}

func mustGrant(ctx context.Context, db *veildb.VeilDB, id types.HandleID, grantee types.Principal, kind types.CapabilityKind) {
	if err := db.Grant(ctx, id, grantee, kind); err != nil {
		log.Fatalf("Failed to grant %s: %s", kind, err)
	}
}
