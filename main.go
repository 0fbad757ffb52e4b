package main

import (
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"mpesa-push/internal/auth"
	"mpesa-push/internal/callback"
	"mpesa-push/internal/config"
	"mpesa-push/internal/logcontext"
	"mpesa-push/internal/logging"
	"mpesa-push/internal/metrics"
	"mpesa-push/internal/stk"
)

func main() {
	config.LoadEnv()
	cfg := config.MustLoadConfig(".")

	logger := logging.GetLogger(cfg.Logs)
	slog.SetDefault(logger)

	metrics.Setup(cfg.Metrics)

	authCfg := auth.Config{
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		Passkey:        cfg.Mpesa.Passkey,
		Sandbox:        !strings.EqualFold(cfg.Mpesa.Environment, "production"),
	}
	if authCfg.ConsumerKey == "" {
		envCfg, err := auth.ConfigFromEnv()
		if err != nil {
			log.Fatal(err)
		}
		authCfg = envCfg
	}

	a := auth.New(authCfg, nil, logger)
	client := stk.NewClient(a, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("POST /push", pushHandler(client, logger))
	mux.Handle("POST /mpesa/callback", callback.NewHandler(logger, nil))

	port := cfg.Server.Port
	if port == "" {
		port = config.GetString("SERVER_PORT", "8080")
	}

	logger.Info("Starting server", "port", port)
	log.Fatal(http.ListenAndServe(":"+port, mux))
}

func pushHandler(client *stk.Client, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logcontext.AppendCtx(r.Context(), slog.String("correlationId", uuid.NewString()))

		var req stk.PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		var err error
		if req.PartyA, err = stk.FormatPhoneNumber(req.PartyA); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.PhoneNumber, err = stk.FormatPhoneNumber(req.PhoneNumber); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		res := <-client.Submit(ctx, req)
		if res.Err != nil {
			logger.ErrorContext(ctx, "Push submission failed", "error", res.Err.Error())
			http.Error(w, res.Err.Error(), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res.Response); err != nil {
			logger.ErrorContext(ctx, "Failed to write push response", "error", err.Error())
		}
	})
}
