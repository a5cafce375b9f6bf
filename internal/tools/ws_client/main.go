// ws_client prints the packet-nexus WebSocket event feed.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "http service address (host:port)")
	only := flag.String("type", "", "only print messages of this type (e.g. event, profiles_update)")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.Close() }()

	// Handle interrupt to exit cleanly
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	go func() {
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Printf("read error: %v", err)
				return
			}
			if *only != "" {
				var msg struct {
					Type string `json:"type"`
				}
				if err := json.Unmarshal(message, &msg); err == nil && msg.Type != *only {
					continue
				}
			}
			log.Printf("recv: %s", message)
		}
	}()

	<-sig
	log.Println("interrupt received, closing websocket")
	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	// give the close a moment
	time.Sleep(500 * time.Millisecond)
}
