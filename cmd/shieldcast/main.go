// Command shieldcast runs the moderation pipeline's HTTP control plane: a
// room detach/introspection API and a websocket telemetry feed, backed by
// a remote OpenAI-compatible detector.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zapdos-labs/shieldcast/engine"
	"github.com/zapdos-labs/shieldcast/frame"
	"github.com/zapdos-labs/shieldcast/inference"
	"github.com/zapdos-labs/shieldcast/telemetry"
)

// envConfig is the set of environment variables this binary reads. Every
// other component receives a *frame.Config built here; nothing downstream
// calls os.Getenv itself.
type envConfig struct {
	ListenAddr string

	VLMBaseURL string
	VLMAPIKey  string
	VLMModel   string

	pipeline *frame.Config
}

// LoadConfigFromEnv loads and validates shieldcast's configuration from
// the environment, starting from frame.DefaultConfig and overriding it with
// the SHIELDCAST_* variables it reads: listen address, batch max size and
// wait, max pending batches, blur method, and detect timeout.
func LoadConfigFromEnv() (*envConfig, error) {
	var missing []string
	var bad []string

	vlmBaseURL := os.Getenv("VLM_OPENAI_BASE_URL")
	vlmAPIKey := os.Getenv("VLM_OPENAI_API_KEY")
	vlmModel := os.Getenv("VLM_OPENAI_MODEL")
	if vlmAPIKey == "" {
		missing = append(missing, "VLM_OPENAI_API_KEY")
	}
	if vlmModel == "" {
		missing = append(missing, "VLM_OPENAI_MODEL")
	}

	listenAddr := os.Getenv("SHIELDCAST_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8090"
	}

	cfg := frame.DefaultConfig()

	if v := os.Getenv("SHIELDCAST_BATCH_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchMaxSize = n
		} else {
			bad = append(bad, fmt.Sprintf("SHIELDCAST_BATCH_MAX_SIZE must be a positive integer, got %q", v))
		}
	}
	if v := os.Getenv("SHIELDCAST_BATCH_MAX_WAIT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchMaxWait = time.Duration(n) * time.Millisecond
		} else {
			bad = append(bad, fmt.Sprintf("SHIELDCAST_BATCH_MAX_WAIT_MS must be a positive integer, got %q", v))
		}
	}
	if v := os.Getenv("SHIELDCAST_MAX_PENDING_BATCHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxPendingBatches = n
		} else {
			bad = append(bad, fmt.Sprintf("SHIELDCAST_MAX_PENDING_BATCHES must be a positive integer, got %q", v))
		}
	}
	if v := os.Getenv("SHIELDCAST_BLUR_METHOD"); v != "" {
		cfg.BlurMethodKind = frame.BlurMethod(strings.ToLower(v))
	}
	if v := os.Getenv("SHIELDCAST_DETECT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DetectTimeout = time.Duration(n) * time.Millisecond
		} else {
			bad = append(bad, fmt.Sprintf("SHIELDCAST_DETECT_TIMEOUT_MS must be a positive integer, got %q", v))
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("invalid environment variables: %v", bad)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}

	return &envConfig{
		ListenAddr: listenAddr,
		VLMBaseURL: vlmBaseURL,
		VLMAPIKey:  vlmAPIKey,
		VLMModel:   vlmModel,
		pipeline:   cfg,
	}, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[Main] no .env file found (this is optional): %v", err)
	}

	env, err := LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("[Main] configuration error: %v", err)
	}

	log.Printf("[Main] loaded config: listen=%s vlm_model=%s batch_max_size=%d batch_max_wait=%v",
		env.ListenAddr, env.VLMModel, env.pipeline.BatchMaxSize, env.pipeline.BatchMaxWait)

	detector := inference.New(env.VLMBaseURL, env.VLMAPIKey, env.VLMModel, env.pipeline)
	manager := engine.NewManager(env.pipeline)
	hub := telemetry.NewHub(manager, env.pipeline.Log())

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go hub.RunOverloadSweep(sweepCtx, overloadSweepInterval)

	mux := newMux(manager, hub, detector, env.pipeline)

	srv := &http.Server{Addr: env.ListenAddr, Handler: mux}
	go func() {
		log.Printf("[Main] listening on %s", env.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Main] HTTP server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[Main] shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[Main] HTTP shutdown error: %v", err)
	}

	stopSweep()
	manager.Shutdown()
	log.Println("[Main] shutdown complete")
}

// overloadSweepInterval is how often the telemetry hub polls every
// attached room's Lane 1 overload state for the out-of-band broadcast.
const overloadSweepInterval = 2 * time.Second

// newMux builds the control-plane HTTP surface. Attaching a room's
// Session is not exposed here: it needs a frame.Source/frame.Sink pair
// bound to that room's live WebRTC tracks, which only the signaling layer
// can produce. That layer calls manager.Attach(roomID, source, sink,
// detector) directly once a room's peer connection is up; this mux only
// covers detach, introspection, and telemetry.
func newMux(manager *engine.Manager, hub *telemetry.Hub, detector *inference.Client, cfg *frame.Config) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /rooms/{roomID}/detach", func(w http.ResponseWriter, r *http.Request) {
		manager.Detach(r.PathValue("roomID"))
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /rooms", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"rooms": manager.Rooms()})
	})

	mux.HandleFunc("GET /rooms/{roomID}/telemetry", func(w http.ResponseWriter, r *http.Request) {
		hub.ServeRoom(w, r, r.PathValue("roomID"))
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}
