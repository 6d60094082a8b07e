// Command check probes a running node over JSON-RPC and exits non zero if
// it does not answer.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/blocknative/devnode/rpc"
)

const probe = `[
	{"jsonrpc":"2.0","id":1,"method":"eth_chainId"},
	{"jsonrpc":"2.0","id":2,"method":"eth_blockNumber"}
]`

func main() {
	app := &cli.App{
		Name:  "check",
		Usage: "probe a devnode JSON-RPC endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://127.0.0.1:8545"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			chainID, height, err := check(ctx, c.String("url"))
			if err != nil {
				return err
			}
			fmt.Printf("chain %d at height %d\n", chainID, height)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "check:", err)
		os.Exit(1)
	}
}

func check(ctx context.Context, url string) (chainID, height uint64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(probe))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	reply, err := rpc.DecodeReply(body)
	if err != nil {
		return 0, 0, err
	}
	if !reply.Batch || len(reply.Responses) != 2 {
		return 0, 0, fmt.Errorf("unexpected reply %s", body)
	}

	out := make([]uint64, 2)
	for i, r := range reply.Responses {
		if r.Error != nil {
			return 0, 0, r.Error
		}
		var v hexutil.Uint64
		if err := v.UnmarshalJSON(r.Result); err != nil {
			return 0, 0, fmt.Errorf("response %s: %w", r.ID, err)
		}
		out[i] = uint64(v)
	}
	return out[0], out[1], nil
}
