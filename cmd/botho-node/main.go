// Command botho-node is the node and wallet driver: it creates an identity
// (init), runs the consensus-and-ledger core (run), and exposes the wallet
// surface (status, balance, address, send) against a running node's RPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/botho-project/botho/internal/blockbuilder"
	"github.com/botho-project/botho/internal/cryptoprim"
	"github.com/botho-project/botho/internal/errkind"
	"github.com/botho-project/botho/internal/ledger"
	"github.com/botho-project/botho/internal/mempool"
	"github.com/botho-project/botho/internal/metrics"
	"github.com/botho-project/botho/internal/minter"
	"github.com/botho-project/botho/internal/network"
	"github.com/botho-project/botho/internal/nodeconfig"
	"github.com/botho-project/botho/internal/orchestrator"
	"github.com/botho-project/botho/internal/rpc"
	"github.com/botho-project/botho/internal/types"
	"github.com/botho-project/botho/internal/wallet"
)

// genesisTimestamp is the fixed timestamp the height-0 block carries; every
// later block's timestamp must strictly exceed it.
const genesisTimestamp = 1_700_000_000

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit(os.Args[2:])
	case "run":
		err = cmdRun(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	case "balance":
		err = cmdBalance(os.Args[2:])
	case "address":
		err = cmdAddress(os.Args[2:])
	case "send":
		err = cmdSend(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		if kind, ok := errkind.Of(err); ok {
			fmt.Fprintf(os.Stderr, "botho-node: %s error: %s\n", kind, os.Args[1])
		} else {
			fmt.Fprintf(os.Stderr, "botho-node: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: botho-node <command> [flags]

commands:
  init               create identity, wallet, quorum config, and genesis
  run [--mint]       start the node; --mint enables the proof-of-work minter
  status             print tip height, peer count, and mempool size
  balance            print the wallet's spendable balance
  address            print the wallet's receiving address
  send <addr> <amt>  send amt picocredits to addr`)
}

func loadConfig(fs *flag.FlagSet, args []string) (*nodeconfig.Config, error) {
	configPath := fs.String("config", "./botho.yaml", "Path to node config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return nodeconfig.Load(*configPath)
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	for _, path := range []string{cfg.LedgerPath, cfg.WalletPath, cfg.IdentityPath, cfg.QuorumPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
	}

	ident, err := generateIdentity()
	if err != nil {
		return err
	}
	if err := ident.save(cfg.IdentityPath); err != nil {
		return err
	}

	w, err := wallet.Generate()
	if err != nil {
		return err
	}
	if err := w.Save(cfg.WalletPath); err != nil {
		return err
	}

	// A fresh deployment starts as a single-validator quorum; operators
	// extend the document as the federation grows.
	quorum := types.QuorumSet{Threshold: 1, Validators: []types.PublicKey{ident.validatorPub}}
	if err := nodeconfig.SaveQuorumSet(cfg.QuorumPath, quorum); err != nil {
		return err
	}

	if err := cfg.Save("./botho.yaml"); err != nil {
		return err
	}

	store, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, _, ok := store.Tip(); ok {
		fmt.Println("ledger already initialized")
		return nil
	}
	genesis := genesisBlock(cfg.Consensus.InitialDifficulty)
	if err := store.Apply(genesis); err != nil {
		return err
	}

	fmt.Printf("identity: %s\n", ident.validatorPub)
	fmt.Printf("address:  %s\n", w.Address())
	fmt.Printf("genesis:  %s at height 0\n", genesis.Header.Hash())
	return nil
}

func genesisBlock(difficulty uint64) *types.Block {
	return &types.Block{
		Header: types.BlockHeader{
			Version:    1,
			PrevHash:   cryptoprim.GenesisPrevHash,
			TxRoot:     blockbuilder.MerkleRoot(nil),
			Timestamp:  genesisTimestamp,
			Height:     0,
			Difficulty: difficulty,
		},
	}
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	mint := fs.Bool("mint", false, "Enable the proof-of-work minter")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	ident, err := loadIdentity(cfg.IdentityPath)
	if err != nil {
		return err
	}
	w, err := wallet.Load(cfg.WalletPath)
	if err != nil {
		return err
	}
	quorum, err := nodeconfig.LoadQuorumSet(cfg.QuorumPath)
	if err != nil {
		return err
	}

	store, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if _, _, ok := store.Tip(); !ok {
		return errors.New("ledger has no genesis block, run `botho-node init` first")
	}

	// Replay the chain into the wallet so the minter can spend prior
	// rewards and `send` sees an accurate balance.
	if err := rescanWallet(w, store); err != nil {
		return err
	}

	adapter, err := network.NewLibP2PAdapter(log, cfg.GossipPort, cfg.BootstrapPeers)
	if err != nil {
		return err
	}

	met := metrics.New()

	var minterPool *minter.Pool
	if *mint {
		minterPool = minter.NewPool(cfg.Minter.Workers, ident.validatorPub, ident.pqPriv, ident.pqPub)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Log:        log,
		Config:     cfg,
		Store:      store,
		Pool:       mempool.New(cfg.Mempool.MaxBytes, cfg.Mempool.MaxCount),
		Adapter:    adapter,
		Metrics:    met,
		Wallet:     w,
		MinterPool: minterPool,
		SelfID:     ident.validatorPub,
		SelfPriv:   ident.validatorPriv,
		QuorumSet:  quorum,
	})
	if err != nil {
		return err
	}

	server := rpc.New(log, cfg.RPCAddr, orch, store, met)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })
	if minterPool != nil {
		g.Go(func() error {
			minterPool.Run(ctx)
			return nil
		})
	}

	log.Info("node started",
		zap.String("identity", ident.validatorPub.String()),
		zap.String("rpc", cfg.RPCAddr),
		zap.Int("gossip_port", cfg.GossipPort),
		zap.Bool("minting", *mint))

	err = g.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	adapter.Close(closeCtx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func rescanWallet(w *wallet.Wallet, store *ledger.Store) error {
	tip, _, ok := store.Tip()
	if !ok {
		return nil
	}
	for h := uint64(0); h <= tip; h++ {
		block, err := store.GetBlock(h)
		if err != nil {
			return err
		}
		if err := w.ScanBlock(block); err != nil {
			return err
		}
	}
	return nil
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	st, err := rpc.NewClient(cfg.RPCAddr).Status()
	if err != nil {
		return err
	}
	fmt.Printf("height:  %d\ntip:     %s\npeers:   %d\nmempool: %d\n",
		st.Height, st.TipHash, st.Peers, st.MempoolSize)
	return nil
}

// syncWalletFromRPC replays the chain into the wallet over the node's RPC.
func syncWalletFromRPC(w *wallet.Wallet, client *rpc.Client) error {
	st, err := client.Status()
	if err != nil {
		return err
	}
	next := uint64(0)
	if scanned, ok := w.ScannedHeight(); ok {
		next = scanned + 1
	}
	for next <= st.Height {
		blocks, err := client.Blocks(next, 100)
		if err != nil {
			return err
		}
		if len(blocks) == 0 {
			break
		}
		for _, block := range blocks {
			if err := w.ScanBlock(block); err != nil {
				return err
			}
			next = block.Header.Height + 1
		}
	}
	return nil
}

func cmdBalance(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	w, err := wallet.Load(cfg.WalletPath)
	if err != nil {
		return err
	}
	if err := syncWalletFromRPC(w, rpc.NewClient(cfg.RPCAddr)); err != nil {
		return err
	}
	fmt.Printf("%d\n", w.Balance())
	return nil
}

func cmdAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	w, err := wallet.Load(cfg.WalletPath)
	if err != nil {
		return err
	}
	fmt.Println(w.Address())
	return nil
}

// minFee mirrors the validator's enforced fee floor.
const minFee = 100_000_000

func cmdSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fee := fs.Uint64("fee", minFee, "Transaction fee in picocredits")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return errors.New("usage: botho-node send <address> <amount>")
	}
	recipient, err := wallet.ParseAddress(rest[0])
	if err != nil {
		return err
	}
	amount, err := strconv.ParseUint(rest[1], 10, 64)
	if err != nil {
		return fmt.Errorf("bad amount %q: %w", rest[1], err)
	}

	w, err := wallet.Load(cfg.WalletPath)
	if err != nil {
		return err
	}
	client := rpc.NewClient(cfg.RPCAddr)
	if err := syncWalletFromRPC(w, client); err != nil {
		return err
	}
	st, err := client.Status()
	if err != nil {
		return err
	}

	tx, err := w.BuildTransaction(recipient, amount, *fee, st.Height, client.SampleOutputs)
	if err != nil {
		return err
	}
	hash, err := client.SubmitTransaction(tx)
	if err != nil {
		return err
	}
	fmt.Printf("submitted %s\n", hash)
	return nil
}
