package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	commonlog "jobtalk/server/common/log"
	messagingapp "jobtalk/server/messaging/app"
)

func main() {
	if err := godotenv.Load(); err != nil {
		commonlog.Debugf("event=messaging_boot action=load_dotenv status=skipped error=%v", err)
	}
	cfg := messagingapp.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancelBoot := context.WithTimeout(ctx, 30*time.Second)
	server, err := messagingapp.NewServer(bootCtx, cfg)
	cancelBoot()
	if err != nil {
		log.Fatalf("initialize messaging server: %v", err)
	}

	go func() {
		commonlog.Infof("start messaging http server on :%s", cfg.Port)
		if err := server.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("run messaging http server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		commonlog.Errorf("shutdown messaging server gracefully: %v", err)
	}
}
