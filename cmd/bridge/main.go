package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/voicebridge-lab/internal/bridge"
	"github.com/voicebridge-lab/internal/logging"
	"github.com/voicebridge-lab/internal/mcp"
	"github.com/voicebridge-lab/internal/metrics"
	"github.com/voicebridge-lab/internal/realtime"
	"github.com/voicebridge-lab/internal/telephony"
)

const streamTwiML = `<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Connect>
    <Stream url="wss://%s/media">
      <Parameter name="tenant" value="%s"/>
    </Stream>
  </Connect>
</Response>`

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	sugar := logging.Init()
	if sugar == nil {
		l, _ := zap.NewProduction()
		defer l.Sync()
		sugar = l.Sugar()
		logging.SetLogger(sugar)
	}
	defer logging.Sync()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		logging.FatalExitf("OPENAI_API_KEY required")
	}
	model := os.Getenv("OPENAI_REALTIME_MODEL")
	if model == "" {
		model = "gpt-4o-realtime-preview"
	}
	publicHost := os.Getenv("PUBLIC_HOST")
	if publicHost == "" {
		logging.FatalExitf("PUBLIC_HOST required (hostname Twilio connects back to)")
	}
	instructions := os.Getenv("TENANT_INSTRUCTIONS")
	if instructions == "" {
		logging.FatalExitf("TENANT_INSTRUCTIONS required")
	}

	var callctl bridge.CallController
	accountSID := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	if accountSID != "" && authToken != "" {
		callctl = telephony.NewCallControl(accountSID, authToken, "")
	} else {
		sugar.Warnw("twilio credentials not set; hangup and redirect disabled")
	}

	var notifier bridge.Notifier = bridge.NoopNotifier{}
	if u := os.Getenv("NOTIFY_WEBHOOK_URL"); u != "" {
		notifier = &bridge.WebhookNotifier{
			URL:       u,
			AuthToken: os.Getenv("NOTIFY_AUTH_TOKEN"),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var backend bridge.ToolBackend
	if u := os.Getenv("MCP_SERVER_URL"); u != "" {
		collab := mcp.NewCollaborator("voicebridge", "1.0.0")
		if err := collab.Connect(ctx, u); err != nil {
			logging.FatalExitf("mcp collaborator connect failed", "err", err)
		}
		defer collab.Close()
		backend = collab
	}

	idleTimeout := 5 * time.Minute
	if v := os.Getenv("IDLE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			idleTimeout = time.Duration(n) * time.Second
		} else {
			sugar.Warnf("invalid IDLE_TIMEOUT_SECONDS=%s; using default %s", v, idleTimeout)
		}
	}

	store := bridge.NewStaticConfigStore()
	store.SetDefault(&bridge.TenantConfig{
		TenantID:     "default",
		Instructions: instructions,
		Voice:        getenvDefault("TENANT_VOICE", "alloy"),
		Greeting:     os.Getenv("TENANT_GREETING"),
		OperatorURL:  os.Getenv("OPERATOR_TWIML_URL"),
	})

	orch := bridge.New(bridge.Options{
		Store:       store,
		Notifier:    notifier,
		CallControl: callctl,
		Credentials: realtime.Credentials{APIKey: apiKey, Model: model},
		ToolBackend: backend,
		IdleTimeout: idleTimeout,
	})
	orch.StartSweeper(ctx, 30*time.Second)

	r := mux.NewRouter()
	r.HandleFunc("/voice", func(w http.ResponseWriter, req *http.Request) {
		tenant := req.URL.Query().Get("tenant")
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprintf(w, streamTwiML, publicHost, tenant)
	}).Methods(http.MethodPost, http.MethodGet)
	r.HandleFunc("/media", orch.HandleMediaStream)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok active=%d", orch.Sessions().Len())
	})
	r.Handle("/metrics", metrics.Handler())

	addr := getenvDefault("LISTEN_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("listening", "addr", addr, "public_host", publicHost, "model", model)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.FatalExitf("serve failed", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	sugar.Infow("shutdown signal received, closing resources")

	cancel()
	for _, s := range orch.Sessions().Snapshot() {
		orch.CloseSession(s, "completed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnf("server shutdown: %v", err)
	}
	sugar.Info("shutdown complete")
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
