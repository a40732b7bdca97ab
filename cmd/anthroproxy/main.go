package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"anthroproxy/internal/config"
	"anthroproxy/internal/credential"
	"anthroproxy/internal/httpapi"
	"anthroproxy/internal/oauth"
	"anthroproxy/internal/pipeline"
	"anthroproxy/internal/restkv"
	"anthroproxy/internal/thinkingcache"
)

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	store := credential.Select()
	oauthMgr := oauth.NewManager(store, credential.DefaultKey)
	oauthMgr.StartRefreshLoop()

	var persistent *restkv.Client
	if config.UpstashConfigured() {
		persistent = restkv.New(config.UpstashURL(), config.UpstashToken())
	}
	cache := thinkingcache.New(persistent, config.ThinkingCacheTTL())

	p := pipeline.New(oauthMgr, cache)
	server := httpapi.New(p, oauthMgr, cache)

	port := config.Port()
	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: server.Handler(),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("shutting down anthroproxy...")
		httpServer.Close()
	}()

	fmt.Printf("anthroproxy listening on :%s\n", port)
	if persistent != nil {
		fmt.Println("  persistent thinking-cache tier: upstash")
	} else {
		fmt.Println("  persistent thinking-cache tier: disabled (in-process LRU only)")
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	log.Println("anthroproxy stopped.")
}
