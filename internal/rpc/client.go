package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/botho-project/botho/internal/orchestrator"
	"github.com/botho-project/botho/internal/types"
)

// Client is the CLI wallet's view of a running node over its RPC listener.
type Client struct {
	base string
	http *http.Client
}

// NewClient targets the node RPC at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		base: "http://" + addr,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var reply errorReply
		if json.NewDecoder(resp.Body).Decode(&reply) == nil && reply.Message != "" {
			return fmt.Errorf("rpc: %s: %s", reply.ErrorKind, reply.Message)
		}
		return fmt.Errorf("rpc: %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status fetches the node's tip, peer count, and mempool size.
func (c *Client) Status() (orchestrator.Status, error) {
	var st orchestrator.Status
	err := c.getJSON("/status", &st)
	return st, err
}

// Blocks fetches up to count applied blocks starting at start; fewer are
// returned past the tip.
func (c *Client) Blocks(start uint64, count int) ([]*types.Block, error) {
	var reply struct {
		Blocks []string `json:"blocks"`
	}
	if err := c.getJSON(fmt.Sprintf("/blocks?start=%d&count=%d", start, count), &reply); err != nil {
		return nil, err
	}
	blocks := make([]*types.Block, 0, len(reply.Blocks))
	for _, h := range reply.Blocks {
		raw, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("rpc: block payload is not hex: %w", err)
		}
		block, err := types.DecodeBlock(raw)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// KeyImageSpent reports whether a key image is already on chain.
func (c *Client) KeyImageSpent(ki types.KeyImage) (bool, error) {
	var reply struct {
		Spent bool `json:"spent"`
	}
	err := c.getJSON("/keyimages/"+hex.EncodeToString(ki[:]), &reply)
	return reply.Spent, err
}

// SampleOutputs fetches ring decoys from the node's UTXO set.
func (c *Client) SampleOutputs(count int, exclude map[types.PublicKey]bool) ([]types.RingMember, error) {
	var excludeList []string
	for k := range exclude {
		excludeList = append(excludeList, hex.EncodeToString(k[:]))
	}
	path := fmt.Sprintf("/outputs/sample?count=%d", count)
	if len(excludeList) > 0 {
		path += "&exclude=" + url.QueryEscape(strings.Join(excludeList, ","))
	}

	var reply struct {
		Outputs []struct {
			TargetKey  string `json:"target_key"`
			Commitment string `json:"commitment"`
		} `json:"outputs"`
	}
	if err := c.getJSON(path, &reply); err != nil {
		return nil, err
	}

	members := make([]types.RingMember, 0, len(reply.Outputs))
	for _, o := range reply.Outputs {
		target, err := hex.DecodeString(o.TargetKey)
		if err != nil || len(target) != 32 {
			return nil, fmt.Errorf("rpc: bad target key in sample")
		}
		commit, err := hex.DecodeString(o.Commitment)
		if err != nil || len(commit) != 32 {
			return nil, fmt.Errorf("rpc: bad commitment in sample")
		}
		var m types.RingMember
		copy(m.TargetKey[:], target)
		copy(m.Commitment[:], commit)
		members = append(members, m)
	}
	return members, nil
}

// SubmitTransaction posts a signed transaction for admission and gossip.
func (c *Client) SubmitTransaction(tx *types.Transaction) (types.Hash, error) {
	body := hex.EncodeToString(types.EncodeTransaction(tx))
	resp, err := c.http.Post(c.base+"/transactions", "text/plain", bytes.NewBufferString(body))
	if err != nil {
		return types.Hash{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var reply errorReply
		if json.NewDecoder(resp.Body).Decode(&reply) == nil && reply.Message != "" {
			return types.Hash{}, fmt.Errorf("rpc: %s: %s", reply.ErrorKind, reply.Message)
		}
		return types.Hash{}, fmt.Errorf("rpc: transaction submission returned %d", resp.StatusCode)
	}
	return tx.Hash(), nil
}
