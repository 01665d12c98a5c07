package wire

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// AddressSize is the length of an account address in bytes.
const AddressSize = 20

// Address is a 20-byte account address, hex-encoded on the wire with a
// 0x prefix.
type Address [AddressSize]byte

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("address: %w", err)
	}
	s = strings.TrimPrefix(s, "0x")
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	if len(decoded) != AddressSize {
		return fmt.Errorf("address: expected %d bytes, got %d", AddressSize, len(decoded))
	}
	copy(a[:], decoded)
	return nil
}

// Capability is one protocol a provider speaks, as a name/version tuple.
type Capability struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// ProviderAnnouncement is the payload of a provider_announcement
// notification on the handshake channel.
type ProviderAnnouncement struct {
	ProviderID   string       `json:"provider_id"`
	Name         string       `json:"name,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// GetCapabilitiesResult lists the protocols the provider speaks.
type GetCapabilitiesResult struct {
	Capabilities []Capability `json:"capabilities"`
}

// NativeTokenTransferRequest asks the provider to sign and submit a
// native-token transfer.
type NativeTokenTransferRequest struct {
	Recipient Address `json:"recipient"`
	Amount    uint64  `json:"amount"`
	Fee       uint64  `json:"fee,omitempty"`
}

// ContractCallRequest asks the provider to sign and submit a call to a
// deployed contract.
type ContractCallRequest struct {
	Target    Address `json:"target"`
	Function  string  `json:"function"`
	Parameter []byte  `json:"parameter,omitempty"`
	MaxGas    uint64  `json:"max_gas,omitempty"`
	Coins     uint64  `json:"coins,omitempty"`
	Fee       uint64  `json:"fee,omitempty"`
}

// ContractDeploymentRequest asks the provider to sign and submit a
// contract deployment.
type ContractDeploymentRequest struct {
	Bytecode  []byte `json:"bytecode"`
	Parameter []byte `json:"parameter,omitempty"`
	MaxGas    uint64 `json:"max_gas,omitempty"`
	Coins     uint64 `json:"coins,omitempty"`
	Fee       uint64 `json:"fee,omitempty"`
}

// SubmitResult identifies an operation accepted by the network.
type SubmitResult struct {
	OperationID string `json:"operation_id"`
}

// SignMessageRequest asks the provider to sign an arbitrary byte string.
type SignMessageRequest struct {
	Message []byte `json:"message"`
}

// SignMessageResult carries the signature over the requested message.
type SignMessageResult struct {
	Signature []byte `json:"signature"`
	PublicKey string `json:"public_key,omitempty"`
}

// LocalContractCallRequest asks the provider to execute a read-only
// contract call without submitting anything.
type LocalContractCallRequest struct {
	Target    Address `json:"target"`
	Function  string  `json:"function"`
	Parameter []byte  `json:"parameter,omitempty"`
}

// LocalContractCallResult carries the raw return value of a read-only
// call.
type LocalContractCallResult struct {
	Result []byte `json:"result"`
}

// SignerAddressResult carries the address of the currently selected
// signer.
type SignerAddressResult struct {
	Address Address `json:"address"`
}

// SignerAddressChanged is the payload of a signer_address_changed
// notification.
type SignerAddressChanged struct {
	Address Address `json:"address"`
}

// ErrorPayload is the payload of a failure response.
type ErrorPayload struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}
