package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"escrowchain/cmd/internal/passphrase"
	"escrowchain/crypto"
	"escrowchain/native/trade"
	"escrowchain/rpc"
)

const (
	rpcURLEnv       = "ESCROW_RPC_URL"
	keystorePassEnv = "ESCROW_KEYSTORE_PASS"
	defaultRPCURL   = "http://127.0.0.1:8080"
)

var errUsage = errors.New("usage")

type cli struct {
	rpcURL   string
	keystore string
	token    string
	out      io.Writer
	pass     func() (string, error)
	// newPass is consulted instead of pass when the keystore does not exist.
	newPass func() (string, error)
}

func main() {
	pass := passphrase.NewSource(keystorePassEnv, "wallet keystore")
	c := &cli{out: os.Stdout, pass: pass.Get, newPass: pass.GetNew}
	global := flag.NewFlagSet("escrowctl", flag.ExitOnError)
	global.StringVar(&c.rpcURL, "rpc", envOr(rpcURLEnv, defaultRPCURL), "JSON-RPC endpoint")
	global.StringVar(&c.keystore, "keystore", "./wallet.keystore", "Path to the signing keystore")
	global.StringVar(&c.token, "token", os.Getenv(rpc.TokenEnv), "Admin bearer token for price and relay administration")
	global.Usage = func() { printUsage(os.Stderr, global) }
	_ = global.Parse(os.Args[1:])

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.run(ctx, global.Args()); err != nil {
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr, global)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, `Usage: escrowctl [flags] <command> [args]

Commands:
  keygen                                 create the keystore if missing and print its address
  info                                   show chain identity and assets
  balance <address> <asset>              show an account balance
  trade create -asset A -amount N -price P [-min N] [-max N] [-offer ID] [-arbitrator ADDR]
  trade fund|accept|complete|cancel|dispute <id>
  trade resolve <id> <winner>
  trade get <id>
  price set <asset> <price>              (admin)
  relay send-create -channel C -asset A -amount N -price P
  relay send-cancel <channel> <trade-id>

Flags:`)
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "keygen":
		key, created, err := c.loadKey()
		if err != nil {
			return err
		}
		return c.print(map[string]any{
			"address": key.PubKey().Address().String(),
			"created": created,
		})
	case "info":
		info, err := rpc.NewClient(c.rpcURL).ChainInfo(ctx)
		if err != nil {
			return err
		}
		return c.print(info)
	case "balance":
		if len(args) != 3 {
			return errUsage
		}
		addr, err := crypto.ParseAccount(args[1])
		if err != nil {
			return err
		}
		balance, err := rpc.NewClient(c.rpcURL).Balance(ctx, addr, args[2])
		if err != nil {
			return err
		}
		return c.print(map[string]string{"address": args[1], "asset": strings.ToUpper(args[2]), "balance": balance})
	case "trade":
		return c.runTrade(ctx, args[1:])
	case "price":
		if len(args) != 4 || args[1] != "set" {
			return errUsage
		}
		quote, err := rpc.NewClient(c.rpcURL, rpc.WithToken(c.token)).SetPrice(ctx, args[2], args[3])
		if err != nil {
			return err
		}
		return c.print(quote)
	case "relay":
		return c.runRelay(ctx, args[1:])
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

var transitionMethods = map[string]string{
	"fund":     "trade_fund",
	"accept":   "trade_accept",
	"complete": "trade_complete",
	"cancel":   "trade_cancel",
	"dispute":  "trade_dispute",
}

func (c *cli) runTrade(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "create":
		req, err := parseTradeFlags("trade create", args[1:], nil)
		if err != nil {
			return err
		}
		client, err := c.signedClient()
		if err != nil {
			return err
		}
		created, err := client.CreateTrade(ctx, req)
		if err != nil {
			return err
		}
		return c.print(created)
	case "get":
		id, err := parseID(args[1:])
		if err != nil {
			return err
		}
		record, err := rpc.NewClient(c.rpcURL).Trade(ctx, id)
		if err != nil {
			return err
		}
		return c.print(record)
	case "resolve":
		if len(args) != 3 {
			return errUsage
		}
		id, err := parseID(args[1:2])
		if err != nil {
			return err
		}
		winner, err := crypto.ParseAccount(args[2])
		if err != nil {
			return err
		}
		client, err := c.signedClient()
		if err != nil {
			return err
		}
		resolved, err := client.Resolve(ctx, id, winner)
		if err != nil {
			return err
		}
		return c.print(resolved)
	}
	method, ok := transitionMethods[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown trade command %q", errUsage, args[0])
	}
	id, err := parseID(args[1:])
	if err != nil {
		return err
	}
	client, err := c.signedClient()
	if err != nil {
		return err
	}
	updated, err := client.Transition(ctx, method, id)
	if err != nil {
		return err
	}
	return c.print(updated)
}

func (c *cli) runRelay(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "send-create":
		var channel string
		req, err := parseTradeFlags("relay send-create", args[1:], func(fs *flag.FlagSet) {
			fs.StringVar(&channel, "channel", "", "Local channel id")
		})
		if err != nil {
			return err
		}
		if strings.TrimSpace(channel) == "" {
			return fmt.Errorf("-channel required")
		}
		client, err := c.signedClient()
		if err != nil {
			return err
		}
		packet, err := client.SendCreate(ctx, channel, req)
		if err != nil {
			return err
		}
		return c.print(packet)
	case "send-cancel":
		if len(args) != 3 {
			return errUsage
		}
		id, err := parseID(args[2:])
		if err != nil {
			return err
		}
		client, err := c.signedClient()
		if err != nil {
			return err
		}
		packet, err := client.SendCancel(ctx, args[1], id)
		if err != nil {
			return err
		}
		return c.print(packet)
	default:
		return fmt.Errorf("%w: unknown relay command %q", errUsage, args[0])
	}
}

// parseTradeFlags reads the create parameters shared by local and relayed
// trades. extra registers additional flags on the same set.
func parseTradeFlags(name string, args []string, extra func(*flag.FlagSet)) (*trade.NewTrade, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	asset := fs.String("asset", "", "Asset symbol")
	amount := fs.String("amount", "", "Trade amount in base units")
	priceStr := fs.String("price", "", "Unit price")
	minStr := fs.String("min", "", "Minimum amount")
	maxStr := fs.String("max", "", "Maximum amount")
	offerID := fs.Uint64("offer", 0, "Offer id backing the trade")
	arbitrator := fs.String("arbitrator", "", "Arbitrator address")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if strings.TrimSpace(*asset) == "" {
		return nil, fmt.Errorf("%s: -asset required", name)
	}
	req := &trade.NewTrade{Asset: strings.ToUpper(strings.TrimSpace(*asset)), OfferID: *offerID}
	var err error
	if req.Amount, err = parseBig("amount", *amount, true); err != nil {
		return nil, err
	}
	if req.Price, err = parseBig("price", *priceStr, true); err != nil {
		return nil, err
	}
	if req.MinAmount, err = parseBig("min", *minStr, false); err != nil {
		return nil, err
	}
	if req.MaxAmount, err = parseBig("max", *maxStr, false); err != nil {
		return nil, err
	}
	if strings.TrimSpace(*arbitrator) != "" {
		addr, err := crypto.ParseAccount(*arbitrator)
		if err != nil {
			return nil, fmt.Errorf("arbitrator: %w", err)
		}
		req.Arbitrator = &addr
	}
	return req, nil
}

func parseBig(field, value string, required bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		if required {
			return nil, fmt.Errorf("-%s required", field)
		}
		return nil, nil
	}
	out, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || out.Sign() < 0 {
		return nil, fmt.Errorf("-%s: invalid amount %q", field, value)
	}
	return out, nil
}

func parseID(args []string) (uint64, error) {
	if len(args) != 1 {
		return 0, errUsage
	}
	id, err := strconv.ParseUint(strings.TrimSpace(args[0]), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid trade id %q", args[0])
	}
	return id, nil
}

func (c *cli) loadKey() (*crypto.PrivateKey, bool, error) {
	get := c.pass
	if _, err := os.Stat(c.keystore); errors.Is(err, fs.ErrNotExist) && c.newPass != nil {
		get = c.newPass
	}
	pass, err := get()
	if err != nil {
		return nil, false, err
	}
	return crypto.LoadOrCreateKeystore(c.keystore, pass)
}

func (c *cli) signedClient() (*rpc.Client, error) {
	key, _, err := c.loadKey()
	if err != nil {
		return nil, err
	}
	return rpc.NewClient(c.rpcURL, rpc.WithSigner(key)), nil
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
