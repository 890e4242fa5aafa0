package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ocx/iot-gateway/internal/activity"
	"github.com/ocx/iot-gateway/internal/appkeys"
	"github.com/ocx/iot-gateway/internal/dispatch"
	"github.com/ocx/iot-gateway/internal/gwconfig"
	"github.com/ocx/iot-gateway/internal/gwerrors"
	"github.com/ocx/iot-gateway/internal/handler"
	"github.com/ocx/iot-gateway/internal/identity"
	"github.com/ocx/iot-gateway/internal/ingress"
	"github.com/ocx/iot-gateway/internal/platformauth"
	"github.com/ocx/iot-gateway/internal/store"
	"github.com/ocx/iot-gateway/internal/telemetry"
)

const (
	staticConfPath  = "conf/static.conf"
	dynamicConfPath = "conf/dynamic.conf"
	appKeyCacheSize = 256
)

func main() {
	slog.Info("IoT gateway starting")

	resolvedStaticPath, resolvedDynamicPath := gwconfig.ConfigPaths(staticConfPath, dynamicConfPath)

	static, err := gwconfig.LoadStatic(resolvedStaticPath)
	if err != nil {
		log.Fatalf("load static config: %v", err)
	}
	static.ApplyEnvOverrides()

	id := identity.New(static.GatewayID, static.GatewaySecureKey)
	slog.Info("gateway identity loaded", "gw_id_b64", id.Base64ID())

	if _, statErr := os.Stat(resolvedDynamicPath); os.IsNotExist(statErr) {
		slog.Info("no dynamic config on disk, authenticating with platform",
			"platform_ip", static.PlatformManagerIP, "platform_port", static.PlatformManagerPort)
		if err := platformauth.Authenticate(static.PlatformManagerIP, int(static.PlatformManagerPort), static.GatewayID, resolvedDynamicPath); err != nil {
			log.Fatalf("platform authentication: %v", err)
		}
	}

	dynamic, err := gwconfig.LoadDynamic(resolvedDynamicPath)
	if err != nil {
		log.Fatalf("load dynamic config: %v", err)
	}

	db, err := store.Open(dynamic.DSN())
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer db.Close()

	errCounter := &gwerrors.Counter{}
	activityLog := activity.New()

	resolver, err := appkeys.NewCached(db, appKeyCacheSize)
	if err != nil {
		log.Fatalf("init app key cache: %v", err)
	}

	h := handler.New(db, activityLog, errCounter, resolver.Checkup, resolver)

	pool := dispatch.NewPool(int(static.WorkerPoolSize), h.HandleConn)

	listener, err := ingress.New(int(static.GatewayPort), pool)
	if err != nil {
		log.Fatalf("bind listener: %v", err)
	}

	reporter := telemetry.New(db, activityLog, errCounter, id.Base64ID(), time.Duration(dynamic.TelemetrySendPeriod)*time.Second)
	reporterCtx, stopReporter := context.WithCancel(context.Background())
	go reporter.Run(reporterCtx)

	go listener.Run()
	slog.Info("gateway listening", "port", static.GatewayPort, "pool_size", static.WorkerPoolSize)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	slog.Info("shutdown signal received, draining")
	stopReporter()
	if err := listener.Shutdown(); err != nil {
		slog.Warn("listener shutdown error", "error", err)
	}
	pool.Close()

	slog.Info("gateway stopped cleanly")
}
