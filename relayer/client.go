// Package relayer is an HTTP client for a relayer that fronts the encrypted
// input coprocessor and the decryption service. It implements
// encryption.Engine.
package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"zvote/codec"
	"zvote/encryption"
)

const defaultHTTPTimeout = 30 * time.Second

// StatusError is a non-2xx relayer answer.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relayer returned %d: %s", e.Code, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	scheme atomic.Pointer[encryption.PaillierScheme]
	key    atomic.Pointer[KeyResponse]
}

type ClientOptionFunc func(*Client)

func WithHTTPClient(hc *http.Client) ClientOptionFunc {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(logger *slog.Logger) ClientOptionFunc {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(baseURL string, opts ...ClientOptionFunc) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init fetches the network public key.
func (c *Client) Init(ctx context.Context) error {
	var key KeyResponse
	if err := c.do(ctx, http.MethodGet, PathKeyURL, nil, &key); err != nil {
		return err
	}
	raw, err := codec.DecodeHex(key.PublicKey)
	if err != nil {
		return fmt.Errorf("invalid public key from relayer: %w", err)
	}
	scheme, err := encryption.NewPaillierPublicScheme(new(big.Int).SetBytes(raw))
	if err != nil {
		return err
	}
	c.key.Store(&key)
	c.scheme.Store(scheme)
	c.logger.Info("relayer key loaded",
		"component", "relayer",
		"url", c.baseURL,
		"chain_id", key.ChainID,
		"key_bits", scheme.KeySize(),
	)
	return nil
}

// Key returns the last fetched key material, or nil before Init.
func (c *Client) Key() *KeyResponse {
	return c.key.Load()
}

func (c *Client) CreateEncryptedInput(contract, user common.Address) encryption.InputBuilder {
	return encryption.NewPaillierInput(c.scheme.Load(), c, contract, user)
}

func (c *Client) RegisterInput(ctx context.Context, contract, user common.Address, ciphertexts [][]byte) (*encryption.EncryptedInput, error) {
	req := InputProofRequest{
		ContractAddress: contract.Hex(),
		UserAddress:     user.Hex(),
		Ciphertexts:     make([]string, 0, len(ciphertexts)),
	}
	for _, ct := range ciphertexts {
		req.Ciphertexts = append(req.Ciphertexts, codec.EncodeHex(ct))
	}
	var resp InputProofResponse
	if err := c.do(ctx, http.MethodPost, PathInputProof, req, &resp); err != nil {
		return nil, err
	}
	out := &encryption.EncryptedInput{Handles: make([]codec.Handle, 0, len(resp.Handles))}
	for _, s := range resp.Handles {
		h, err := codec.ParseHandle(s)
		if err != nil {
			return nil, fmt.Errorf("invalid handle from relayer: %w", err)
		}
		out.Handles = append(out.Handles, h)
	}
	proof, err := codec.DecodeHex(resp.InputProof)
	if err != nil {
		return nil, fmt.Errorf("invalid input proof from relayer: %w", err)
	}
	out.InputProof = proof
	return out, nil
}

func (c *Client) GenerateKeypair() (*encryption.Keypair, error) {
	return encryption.GenerateKeypair()
}

func (c *Client) UserDecrypt(ctx context.Context, req *encryption.UserDecryptRequest) (map[string]*big.Int, error) {
	if req.Keypair == nil {
		return nil, errors.New("missing keypair")
	}
	wire := UserDecryptRequest{
		HandleContractPairs: make([]HandleContractPair, 0, len(req.Pairs)),
		RequestValidity: RequestValidity{
			StartTimestamp: strconv.FormatInt(req.StartTimestamp, 10),
			DurationDays:   strconv.Itoa(req.DurationDays),
		},
		ContractAddresses: make([]string, 0, len(req.ContractAddresses)),
		UserAddress:       req.UserAddress.Hex(),
		PublicKey:         codec.EncodeHex(req.Keypair.PublicKey),
		Signature:         req.Signature,
	}
	for _, p := range req.Pairs {
		wire.HandleContractPairs = append(wire.HandleContractPairs, HandleContractPair{
			Handle:          p.Handle.Hex(),
			ContractAddress: p.Contract.Hex(),
		})
	}
	for _, a := range req.ContractAddresses {
		wire.ContractAddresses = append(wire.ContractAddresses, a.Hex())
	}
	var resp UserDecryptResponse
	if err := c.do(ctx, http.MethodPost, PathUserDecrypt, wire, &resp); err != nil {
		return nil, err
	}
	sealed := make(map[string][]byte, len(resp.Results))
	for k, v := range resp.Results {
		b, err := codec.DecodeHex(v)
		if err != nil {
			return nil, fmt.Errorf("invalid sealed value for %s: %w", k, err)
		}
		sealed[k] = b
	}
	return encryption.OpenSealedValues(req.Keypair, sealed)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relayer request %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("relayer request",
		"component", "relayer",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read relayer response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode relayer response: %w", err)
	}
	return nil
}
