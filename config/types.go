package config

// Trade holds the settlement policy applied by the trade engine.
type Trade struct {
	PriceToleranceBps  uint32   `toml:"PriceToleranceBps"`
	DefaultArbitrator  string   `toml:"DefaultArbitrator,omitempty"`
	AllowPartialOffers bool     `toml:"AllowPartialOffers"`
	PausedModules      []string `toml:"PausedModules"`
}

// Relay tunes the cross-chain channel module.
type Relay struct {
	Version              string `toml:"Version"`
	PacketTimeoutSeconds uint64 `toml:"PacketTimeoutSeconds"`
}

// RPC configures the JSON-RPC surface. The admin token itself is never
// stored in the file; TokenEnv names the variable carrying it.
type RPC struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
	TokenEnv          string  `toml:"TokenEnv"`
}

type Price struct {
	MaxAgeSeconds uint64   `toml:"MaxAgeSeconds"`
	Sources       []string `toml:"Sources"`
	FeedURL       string   `toml:"FeedURL,omitempty"`
	FeedAPIKeyEnv string   `toml:"FeedAPIKeyEnv,omitempty"`
}

type Telemetry struct {
	Endpoint    string  `toml:"Endpoint,omitempty"`
	Insecure    bool    `toml:"Insecure"`
	Metrics     bool    `toml:"Metrics"`
	Traces      bool    `toml:"Traces"`
	SampleRatio float64 `toml:"SampleRatio"`
	HeadersEnv  string  `toml:"HeadersEnv,omitempty"`
}

// RelayerPeer is one node the relayer moves packets for.
type RelayerPeer struct {
	Name     string `toml:"Name"`
	URL      string `toml:"URL"`
	TokenEnv string `toml:"TokenEnv"`
}

// Relayer configures the packet relayer daemon.
type Relayer struct {
	IntervalSeconds uint64        `toml:"IntervalSeconds"`
	Peers           []RelayerPeer `toml:"Peers"`
}
