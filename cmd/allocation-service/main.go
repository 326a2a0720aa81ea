package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/audit"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/config"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/directory"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/engine"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/httpserver"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/ledger"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/reallocation"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/store"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/workload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	st := store.NewPGStore(db)
	cases := directory.NewHTTPCaseDirectory(cfg.CaseDirectoryURL)
	agents := directory.NewHTTPAgentDirectory(cfg.AgentDirectoryURL)
	accounting := workload.NewAccounting(agents)

	sinks := audit.Fanout{audit.NewPGSink(db)}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := audit.NewKafkaSink(audit.KafkaSinkConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka sink: %v", err)
		}
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}

	var archiver audit.HistoryArchiver
	if cfg.ArchiveBucket != "" {
		s3Archiver, err := audit.NewS3Archiver(context.Background(), cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			log.Fatalf("s3 archiver: %v", err)
		}
		archiver = s3Archiver
	}

	ruleEngine := engine.New(st, cases, agents, accounting, sinks)
	ledgerService := ledger.New(st, cases, accounting, sinks)
	reallocEngine := reallocation.New(st, cases, agents, accounting, sinks, archiver)

	server := httpserver.New(ruleEngine, ledgerService, reallocEngine)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Allocation engine listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("allocation server error: %v", err)
		}
	}()

	waitForShutdown(httpServer)
}

func waitForShutdown(srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("allocation graceful shutdown: %v", err)
	}
}
