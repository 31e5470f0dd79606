package types

// Network selects the address HRP and the key-derivation salt the
// engine operates against (§6 CLI/env surface: ZCASH_NETWORK).
type Network uint8

const (
	Mainnet Network = iota
	Testnet
)

// String implements fmt.Stringer.
func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	default:
		return "unknown"
	}
}

// ParseNetwork maps the ZCASH_NETWORK env value to a Network.
func ParseNetwork(s string) (Network, bool) {
	switch s {
	case "mainnet":
		return Mainnet, true
	case "testnet":
		return Testnet, true
	default:
		return Mainnet, false
	}
}

// AddressHRP returns the Bech32 human-readable part for shielded
// payment addresses on this network (§3, §6).
func (n Network) AddressHRP() string {
	if n == Testnet {
		return "ztestsapling"
	}
	return "zs"
}

// KDFSalt returns the network-specific salt mixed into wallet-seed key
// derivation (§4.4 step 1), so the same 32-byte secret yields unrelated
// keys on mainnet vs. testnet.
func (n Network) KDFSalt() []byte {
	if n == Testnet {
		return []byte("ShieldedEngine_Testnet_KDF")
	}
	return []byte("ShieldedEngine_Mainnet_KDF")
}
