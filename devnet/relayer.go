package devnet

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"zvote/codec"
	"zvote/encryption"
	"zvote/relayer"
)

const maxRequestBody = 1 << 20

// RelayerHandler serves the relayer HTTP API on top of a Network.
type RelayerHandler struct {
	network *Network
	logger  *slog.Logger
	mux     *http.ServeMux
}

func NewRelayerHandler(network *Network, logger *slog.Logger) *RelayerHandler {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	h := &RelayerHandler{
		network: network,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	h.mux.HandleFunc(relayer.PathKeyURL, h.handleKeyURL)
	h.mux.HandleFunc(relayer.PathInputProof, h.handleInputProof)
	h.mux.HandleFunc(relayer.PathUserDecrypt, h.handleUserDecrypt)
	return h
}

func (h *RelayerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *RelayerHandler) handleKeyURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	domain := h.network.Domain()
	writeJSON(w, http.StatusOK, relayer.KeyResponse{
		PublicKey:          codec.EncodeHex(h.network.PublicKey().Bytes()),
		CoprocessorAddress: h.network.CoprocessorAddress().Hex(),
		ChainID:            domain.ChainID,
		VerifyingContract:  domain.VerifyingContract.Hex(),
	})
}

func (h *RelayerHandler) handleInputProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req relayer.InputProofRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	contract, err := codec.ParseAddress(req.ContractAddress)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := codec.ParseAddress(req.UserAddress)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cts := make([][]byte, 0, len(req.Ciphertexts))
	for _, s := range req.Ciphertexts {
		ct, err := codec.DecodeHex(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cts = append(cts, ct)
	}
	input, err := h.network.RegisterInput(r.Context(), contract, user, cts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp := relayer.InputProofResponse{
		Handles:    make([]string, 0, len(input.Handles)),
		InputProof: codec.EncodeHex(input.InputProof),
	}
	for _, handle := range input.Handles {
		resp.Handles = append(resp.Handles, handle.Hex())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RelayerHandler) handleUserDecrypt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req relayer.UserDecryptRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	params, err := decodeUserDecrypt(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sealed, err := h.network.UserDecrypt(r.Context(), params)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrNotAllowed), errors.Is(err, ErrRequestExpired):
			status = http.StatusForbidden
		case errors.Is(err, ErrUnknownHandle):
			status = http.StatusNotFound
		}
		h.logger.Warn("user decrypt refused", "component", "relayer", "error", err)
		writeError(w, status, err)
		return
	}
	resp := relayer.UserDecryptResponse{Results: make(map[string]string, len(sealed))}
	for k, v := range sealed {
		resp.Results[k] = codec.EncodeHex(v)
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeUserDecrypt(req *relayer.UserDecryptRequest) (*UserDecryptParams, error) {
	user, err := codec.ParseAddress(req.UserAddress)
	if err != nil {
		return nil, err
	}
	pub, err := codec.DecodeHex(req.PublicKey)
	if err != nil {
		return nil, err
	}
	sig, err := codec.DecodeHex(req.Signature)
	if err != nil {
		return nil, err
	}
	start, err := strconv.ParseInt(req.RequestValidity.StartTimestamp, 10, 64)
	if err != nil {
		return nil, ErrInvalidRequest
	}
	days, err := strconv.Atoi(req.RequestValidity.DurationDays)
	if err != nil {
		return nil, ErrInvalidRequest
	}
	contracts := make([]common.Address, 0, len(req.ContractAddresses))
	for _, s := range req.ContractAddresses {
		c, err := codec.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	pairs := make([]encryption.HandleContractPair, 0, len(req.HandleContractPairs))
	for _, p := range req.HandleContractPairs {
		handle, err := codec.ParseHandle(p.Handle)
		if err != nil {
			return nil, err
		}
		c, err := codec.ParseAddress(p.ContractAddress)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, encryption.HandleContractPair{Handle: handle, Contract: c})
	}
	return &UserDecryptParams{
		Pairs:             pairs,
		PublicKey:         pub,
		Signature:         sig,
		ContractAddresses: contracts,
		UserAddress:       user,
		StartTimestamp:    start,
		DurationDays:      days,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, relayer.ErrorResponse{Error: err.Error()})
}
