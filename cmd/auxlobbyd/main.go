package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"

	"auxlobby/internal/collabapi"
	"auxlobby/internal/config"
	"auxlobby/internal/hertzgate"
	"auxlobby/internal/lobbyserver"
)

func main() {
	cfgPath := flag.String("config", "auxlobby.json", "config file path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	reg := lobbyserver.NewRegistry()
	dir := lobbyserver.NewDirectory()

	gateway := hertzgate.NewRouter(server.Default(server.WithHostPorts(cfg.GatewayAddr)), reg, dir)
	collab := collabapi.NewServer(reg, dir)

	go func() {
		log.Printf("Starting gateway on %s", cfg.GatewayAddr)
		gateway.Spin()
	}()
	go func() {
		log.Printf("Starting collaborator API on %s", cfg.CollabAddr)
		if err := collab.Start(cfg.CollabAddr); err != nil {
			log.Printf("collaborator API stopped: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := collab.Shutdown(ctx); err != nil {
		log.Printf("collaborator API shutdown failed: %v", err)
	}
	if err := gateway.Shutdown(ctx); err != nil {
		log.Printf("gateway shutdown failed: %v", err)
	}
	log.Println("Stopped")
}
