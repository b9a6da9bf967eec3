package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	tileloader "github.com/tile-loader/tile-loader"
	"github.com/tile-loader/tile-loader/cache"
)

var (
	configFilenameFlag string
	portFlag           int
	originFlag         string
	providerFlag       string
	cacheFileFlag      string
	verbosityTraceFlag bool
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Tile URL template with {z}/{x}/{y} placeholders (overrides config)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&providerFlag, "provider", "sqlite", "Caching provider to use")
	flag.StringVar(&cacheFileFlag, "cache-file", "./tiles.db", "Cache database file for disk providers")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

func main() {
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg := Config{
		Port:      portFlag,
		Provider:  providerFlag,
		CacheFile: cacheFileFlag,
	}
	if configFilenameFlag != "" {
		fileCfg, err := getConfig(configFilenameFlag)
		if err != nil {
			panic(err)
		}
		cfg = fileCfg
		if cfg.Port <= 0 {
			cfg.Port = portFlag
		}
		if cfg.Provider == "" {
			cfg.Provider = providerFlag
		}
		if cfg.CacheFile == "" {
			cfg.CacheFile = cacheFileFlag
		}
	}
	if originFlag != "" {
		cfg.Origin = originFlag
	}
	if cfg.Origin == "" {
		log.Fatal().Msg("Please specify a tile origin template")
	}

	var provider cache.Provider
	switch cfg.Provider {
	case "sqlite":
		provider = cache.NewSQLiteCache(cfg.CacheFile)
	case "memory":
		provider = cache.NewMemCache()
	case "bolt":
		bolt := cache.NewBoltCache(cfg.CacheFile, "")
		if err := bolt.Connect(); err != nil {
			log.Fatal().Err(err).Msg("Could not open bolt cache")
		}
		defer bolt.Close()
		provider = bolt
	default:
		log.Fatal().Msgf("Unsupported cache provider: %s", cfg.Provider)
	}

	loader := tileloader.New(tileloader.Config{
		Cache:          provider,
		MaxWorkers:     cfg.MaxWorkers,
		ConnectTimeout: time.Duration(cfg.ConnectTimeoutSec) * time.Second,
		ReadTimeout:    time.Duration(cfg.ReadTimeoutSec) * time.Second,
		Headers:        cfg.Headers,
	})

	r := chi.NewRouter()
	r.Get("/tiles/{z}/{x}/{y}", tileHandler(loader, cfg.Origin))

	log.Info().Int("port", cfg.Port).Str("origin", cfg.Origin).Msg("Serving tiles")
	if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Port), r); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func tileHandler(loader *tileloader.Loader, template string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		z, errZ := strconv.Atoi(chi.URLParam(r, "z"))
		x, errX := strconv.Atoi(chi.URLParam(r, "x"))
		y, errY := strconv.Atoi(chi.URLParam(r, "y"))
		if errZ != nil || errX != nil || errY != nil {
			http.Error(w, "invalid tile coordinates", http.StatusBadRequest)
			return
		}

		job := loader.NewJob(tileloader.TileSource{
			Template: template,
			Z:        z, X: x, Y: y,
		})
		waiter := tileloader.NewWaiter()
		force := r.URL.Query().Get("force") == "1"
		if err := job.Submit(waiter, force); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		loaded := <-waiter.C
		switch {
		case loaded.Result != tileloader.LoadSuccess:
			http.Error(w, "tile load failed", http.StatusBadGateway)
		case !loaded.Value.Loadable():
			code := loaded.Attributes.ResponseCode
			if code == 0 {
				code = http.StatusNotFound
			}
			http.Error(w, "tile unavailable", code)
		default:
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write(loaded.Value.Content); err != nil {
				log.Error().Err(err).Msg("Could not write tile to client")
			}
		}
	}
}
