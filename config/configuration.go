package config

// Prefix for environment variable names, so HTTP_LISTEN becomes MESHBRIDGE_HTTP_LISTEN.
const envprefix = "MESHBRIDGE"

// Configuration via environment variables with github.com/kelseyhightower/envconfig.
type Configuration struct {

	// HTTP_LISTEN is the listening address for the HTTP server.
	HttpListen string `split_words:"true" default:"0.0.0.0:80" desc:"Listening Addr for HTTP server"`

	// HTTP_CERT and HTTP_KEY are paths to a TLS keypair to optionally use for the HTTP server.
	// If none are given, a plaintext server is started.
	HttpCert string `split_words:"true" desc:"Path to TLS certificate to use"`
	HttpKey  string `split_words:"true" desc:"Path to TLS key to use"`

	// ALLOWED_ORIGINS is a list of allowed Origin headers for websocket connections.
	AllowedOrigins []string `split_words:"true" default:"*" desc:"List of allowed Origins for WebSocket"`

	// STATIC_FILES is a path with static files to serve; usually the portal frontend dist.
	StaticFiles string `split_words:"true" default:"./frontend/dist/" desc:"Serve static files on \"/\" from here"`

	// TILES_DIR is a directory of .mbtiles files to serve map tiles from.
	// The files are usually the zoom-split output of cmd/tilesplit.
	TilesDir string `split_words:"true" default:"./tiles/" desc:"Directory with .mbtiles files to serve"`

	// HISTORY_DB is the path to the BoltDB file holding the chat message history.
	HistoryDb string `split_words:"true" default:"./history.db" desc:"BoltDB file for chat history"`

	// HISTORY_LIMIT caps how many recent messages are kept and replayed to new clients.
	HistoryLimit int `split_words:"true" default:"200" desc:"Number of chat messages to retain"`

	// SERIAL_GLOBS are the device path patterns scanned for an attached radio.
	SerialGlobs []string `split_words:"true" default:"/dev/ttyACM*,/dev/ttyUSB*" desc:"Glob patterns for radio serial devices"`

	// SURFACE_LIMIT is the number of map surfaces that may be live concurrently
	// when the admission gate is enforced.
	SurfaceLimit int `split_words:"true" default:"3" desc:"Max concurrently live map surfaces"`

	// SURFACE_GATE controls whether the surface admission bound is enforced at all:
	// "on" always enforces, "off" grants every request unconditionally, and
	// "auto" probes the host once and enforces only on small appliance boards.
	SurfaceGate string `split_words:"true" default:"on" desc:"Enforce the surface bound (auto|on|off)"`

	// METRICS will expose metrics for Prometheus via /metrics
	Metrics bool `desc:"Enable Prometheus exporter on /metrics" default:"false"`

	// DEBUG will enable the pprof handlers under /debug/pprof
	Debug bool `desc:"Enable profiling handlers on /debug/pprof" default:"false"`
}
