package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raidikalu/raidikalu/src/config"
	"github.com/raidikalu/raidikalu/src/data"
	"github.com/raidikalu/raidikalu/src/messages"
	"github.com/raidikalu/raidikalu/src/notify"
	"github.com/raidikalu/raidikalu/src/raids"
	"github.com/raidikalu/raidikalu/src/settings"
	"github.com/raidikalu/raidikalu/src/types"
	"github.com/raidikalu/raidikalu/src/webserver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db := data.MustMySQL(cfg.MySQLDSN)
	if err := data.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	rdb := data.MustRedis(cfg.RedisURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver := settings.NewResolver(db, rdb)
	publisher := messages.NewPublisher(rdb)
	notifier := notify.New(db, rdb, resolver)

	svc := raids.NewService(db, resolver)
	// Post-save hooks run in order: notify first, then broadcast, so
	// viewers never see a raid before its notification decision.
	svc.AddSaveHook(func(ctx context.Context, raid *types.Raid, created bool) {
		notifier.NotifyRaid(ctx, raid)
	})
	svc.AddSaveHook(func(ctx context.Context, raid *types.Raid, created bool) {
		publisher.RaidUpdated(ctx, raid, created)
	})

	hub := webserver.NewHub(rdb)
	go hub.Run(ctx)

	router := webserver.New(cfg, db, rdb, svc, publisher, hub)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Raidikalu listening on %s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	_ = httpSrv.Shutdown(shutCtx)
}
