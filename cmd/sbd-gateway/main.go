// SBD Gateway
// Relays short-burst satellite messages between on-vehicle software and an
// Iridium 9602/9603-class modem: outbound requests are queued by urgency and
// transmitted one session at a time; inbound messages are decoded and
// published locally.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-chi/chi/v5"

	"sbd-gateway/internal/announce"
	"sbd-gateway/internal/driver"
	"sbd-gateway/internal/handlers"
	"sbd-gateway/internal/sbd"
)

const (
	defaultPort         = "6010"
	defaultHost         = "0.0.0.0"
	defaultBaud         = driver.DefaultBaud
	defaultMboxCheckSec = 300
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("SBD gateway starting...")

	port := envOr("SBD_HTTP_PORT", defaultPort)
	host := envOr("SBD_HTTP_HOST", defaultHost)
	serialPort := os.Getenv("SBD_SERIAL_PORT")
	baud := envOrInt("SBD_SERIAL_BAUD", defaultBaud)
	mboxCheckSec := envOrInt("SBD_MBOX_CHECK_SEC", defaultMboxCheckSec)
	maxTxRate := envOrInt("SBD_MAX_TX_RATE", 0)
	localAddr := envOrInt("SBD_LOCAL_ADDR", 0)

	if serialPort != "" {
		if err := handlers.ValidateSerialPort(serialPort); err != nil {
			log.Fatalf("SBD_SERIAL_PORT: %v", err)
		}
	}

	// Modem driver
	mdm := driver.New(baud)
	if err := mdm.Connect(serialPort); err != nil {
		log.Fatalf("modem initialization failed: %v", err)
	}
	mdm.SetTxRateMax(maxTxRate)

	// Report sinks: SSE stream always, D-Bus when a system bus is there.
	events := handlers.NewEventHub()
	statusSinks := sbd.StatusFanout{events}
	messageSinks := sbd.MessageFanout{events}

	if ann, err := announce.New(); err != nil {
		log.Printf("D-Bus announcements disabled: %v", err)
	} else {
		defer ann.Close()
		statusSinks = append(statusSinks, ann)
		messageSinks = append(messageSinks, ann)
	}

	// Queue manager
	manager := sbd.NewQueueManager(mdm, statusSinks, messageSinks,
		uint16(localAddr), time.Duration(mboxCheckSec)*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		manager.Run(ctx)
	}()

	// HTTP API
	r := chi.NewRouter()
	handlers.SetupRoutes(r, handlers.NewHandler(manager, mdm, events))

	addr := host + ":" + port
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("gateway listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	daemon.SdNotify(false, daemon.SdNotifyReady)
	stopWatchdog := startWatchdog()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gateway...")
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopWatchdog()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown failed: %v", err)
	}

	// Stop the queue manager; it drains pending requests with shutdown
	// errors before returning.
	cancel()
	<-managerDone

	mdm.Close()
	log.Println("gateway stopped")
}

// startWatchdog feeds the systemd watchdog when one is configured. The
// returned func stops the feeder.
func startWatchdog() func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
	return func() { close(done) }
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s: invalid value %q", key, v)
	}
	return n
}
