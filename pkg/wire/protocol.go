package wire

// Channel names are direction-qualified: the client publishes on the
// client-direction name and listens on the provider-direction name, so a
// participant never consumes its own traffic.
const (
	HandshakeKind            = "handshake"
	HandshakeClientChannel   = "wallet-handshake-client"
	HandshakeProviderChannel = "wallet-handshake-provider"

	RPCKind                  = "rpc-v1"
	RPCClientChannelPrefix   = "wallet-rpc-client-"
	RPCProviderChannelPrefix = "wallet-rpc-provider-"

	RPCProtocolName    = "rpc"
	RPCProtocolVersion = 1
)

// Request kinds understood by the RPC protocol.
const (
	OpGetCapabilities           = "get_capabilities"
	OpSubmitNativeTokenTransfer = "submit_native_token_transfer"
	OpSubmitContractCall        = "submit_contract_call"
	OpSubmitContractDeployment  = "submit_contract_deployment"
	OpSignMessage               = "sign_message"
	OpLocalContractCall         = "local_contract_call"
	OpGetSignerAddress          = "get_signer_address"
)

// Notification kinds.
const (
	NotifyProviderAnnouncement = "provider_announcement"
	NotifySignerAddressChanged = "signer_address_changed"
)

// RPCClientChannel returns the client-direction channel name for a
// provider. The provider id is baked into the name so sessions with
// different providers never interfere.
func RPCClientChannel(providerID string) string {
	return RPCClientChannelPrefix + providerID
}

// RPCProviderChannel returns the provider-direction channel name for a
// provider.
func RPCProviderChannel(providerID string) string {
	return RPCProviderChannelPrefix + providerID
}

// RPCCapability is the protocol version tuple advertised through
// get_capabilities.
func RPCCapability() Capability {
	return Capability{Name: RPCProtocolName, Version: RPCProtocolVersion}
}
