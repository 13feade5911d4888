package relayer

// Paths served by a relayer.
const (
	PathKeyURL      = "/v1/keyurl"
	PathInputProof  = "/v1/input-proof"
	PathUserDecrypt = "/v1/user-decrypt"
)

// KeyResponse publishes the network encryption key and the identities the
// client needs to build requests.
type KeyResponse struct {
	PublicKey          string `json:"publicKey"`
	CoprocessorAddress string `json:"coprocessorAddress"`
	ChainID            uint64 `json:"chainId"`
	VerifyingContract  string `json:"verifyingContract"`
}

type InputProofRequest struct {
	ContractAddress string   `json:"contractAddress"`
	UserAddress     string   `json:"userAddress"`
	Ciphertexts     []string `json:"ciphertexts"`
}

type InputProofResponse struct {
	Handles    []string `json:"handles"`
	InputProof string   `json:"inputProof"`
}

type HandleContractPair struct {
	Handle          string `json:"handle"`
	ContractAddress string `json:"contractAddress"`
}

type RequestValidity struct {
	StartTimestamp string `json:"startTimestamp"`
	DurationDays   string `json:"durationDays"`
}

type UserDecryptRequest struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	RequestValidity     RequestValidity      `json:"requestValidity"`
	ContractAddresses   []string             `json:"contractAddresses"`
	UserAddress         string               `json:"userAddress"`
	PublicKey           string               `json:"publicKey"`
	Signature           string               `json:"signature"`
}

// UserDecryptResponse maps handle text to the plaintext sealed under the
// request's public key.
type UserDecryptResponse struct {
	Results map[string]string `json:"results"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
