package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"meshbridge.dev/bridge/chat"
	"meshbridge.dev/bridge/config"
	"meshbridge.dev/bridge/mesh"
	"meshbridge.dev/bridge/net/server"
	"meshbridge.dev/bridge/surface"
	"meshbridge.dev/bridge/tiles"
)

func main() {
	printBanner()
	printVersion()

	// use configuration from environment variables
	conf := config.GetConfiguration()
	log.Printf("%#v", &conf)

	// create a new http server for the bridge
	mux := http.NewServeMux()
	bridge, err := server.NewServer(mux, conf.HttpListen, conf.HttpCert, conf.HttpKey)
	if err != nil {
		log.Fatalf("failed to start server: %s", err)
	}

	// open the tilesets and serve map tiles
	store, err := tiles.Open(conf.TilesDir)
	if err != nil {
		log.Fatalf("failed to open tilesets: %s", err)
	}
	defer store.Close()
	mux.HandleFunc("GET /api/tiles/{z}/{x}/{y}", store.Handler())
	mux.HandleFunc("GET /api/tiles/meta", store.MetaHandler())
	log.Printf("Tiles at %s/api/tiles/{z}/{x}/{y}", bridge.Addr())

	// retained chat history
	history, err := chat.OpenHistory(conf.HistoryDb, conf.HistoryLimit)
	if err != nil {
		log.Fatalf("failed to open chat history: %s", err)
	}
	defer history.Close()

	// the radio watcher feeds the chat hub; the hub sends through the
	// watcher, so wire the callbacks through a variable set just below
	var hub *chat.Hub
	radio := mesh.NewWatcher(conf.SerialGlobs,
		func(from, text string) { hub.HandleInbound(from, text) },
		func(online bool) { hub.SetRadioOnline(online) },
	)
	hub = chat.NewHub(history, radio)
	go radio.Run(context.Background())

	// chat endpoint
	mux.HandleFunc("GET /api/chat/ws", hub.Handler(conf.AllowedOrigins))
	log.Printf("Chat socket: %s/api/chat/ws", bridge.Addr())

	// surface admission endpoint, bounding concurrently live map views
	opts := surface.Options{MaxActive: conf.SurfaceLimit}
	opts.Gated, opts.Probe = surface.GateFromMode(conf.SurfaceGate)
	if conf.Metrics {
		opts.Metrics = surface.NewMetrics()
	}
	surfaces := surface.NewHandler(opts, conf.AllowedOrigins)
	mux.Handle("GET /api/surface/ws", surfaces)
	log.Printf("Surface socket: %s/api/surface/ws", bridge.Addr())

	// health and version message
	mux.HandleFunc("GET /healthz", server.Healthz())
	mux.HandleFunc("GET /api/version", server.Version())

	// pprof endpoint for debugging
	if conf.Debug {
		mux.Handle("GET /debug/pprof/", server.Profiling())
		log.Printf("DEBUG: bridge PID is %d", os.Getpid())
		log.Printf("DEBUG: pprof profiles at %s/debug/pprof", bridge.Addr())
	}

	// prometheus metrics
	if conf.Metrics {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "meshbridge_chat_clients",
			Help: "Currently connected chat clients.",
		}, func() float64 { return float64(hub.ClientCount()) })
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "meshbridge_chat_messages_per_second",
			Help: "Recent chat message throughput.",
		}, hub.Rate)
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "meshbridge_chat_lora_messages_per_second",
			Help: "Recent throughput of messages arriving over the radio.",
		}, func() float64 { return hub.SourceRate(chat.SourceLora) })
		mux.Handle("/metrics", server.Prometheus())
		log.Printf("Prometheus metrics: %s/metrics", bridge.Addr())
	}

	// captive portal probes and the frontend
	server.RegisterCaptivePortal(mux)
	mux.Handle("/", server.Frontend(conf.StaticFiles))

	// start listening http server
	log.Printf("Bridge listening on %s", bridge.Addr())
	if err := bridge.ListenAndServe(); err != nil {
		log.Fatalf("oops: %s", err)
	}

}
