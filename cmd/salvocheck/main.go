package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/park285/salvo/internal/broadcast"
	"github.com/park285/salvo/pkg/salvodto"
)

// salvocheck verifies the realtime gateway is reachable before a deploy:
// it reads /healthz, optionally sends a test event and holds a WS session open.
func main() {
	_ = godotenv.Load()
	baseURL := os.Getenv("GATEWAY_BASE_URL")
	wsURL := os.Getenv("GATEWAY_WS_URL")
	token := os.Getenv("GATEWAY_TOKEN")
	pingRoom := os.Getenv("PING_ROOM")

	if baseURL == "" {
		log.Fatal("GATEWAY_BASE_URL is required")
	}

	headers := broadcast.BearerToken(token)
	client := broadcast.NewClient(baseURL,
		broadcast.WithHeaderProvider(headers),
		broadcast.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := client.Health(ctx)
	if err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		log.Printf("/healthz ok: status=%s connections=%d", h.Status, h.Connections)
	}

	if pingRoom != "" {
		env := broadcast.Envelope{
			Room:    pingRoom,
			Event:   salvodto.EventMatchStarted,
			Payload: salvodto.MatchStarted{MatchID: "ping", TurnHolder: "ping"},
		}
		if err := client.Emit(ctx, env); err != nil {
			log.Printf("ping emit error: %v", err)
		} else {
			log.Printf("ping emit ok: room=%s", pingRoom)
		}
	}

	if wsURL == "" {
		log.Println("GATEWAY_WS_URL not set; skipping WS check")
		return
	}

	ws := broadcast.NewWebSocket(wsURL, 0)
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state broadcast.WebSocketState) {
		log.Printf("WS state: %s", state)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}

	// hold the session briefly to catch early disconnects
	t := time.NewTimer(10 * time.Second)
	<-t.C

	_ = ws.Close(context.Background())
}
