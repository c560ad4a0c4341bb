// Command mediasoup-echo-demo is a minimal signaling server showing how an
// application wires an HTTP/WebSocket transport around the core library. It
// is an example collaborator, not part of the core control plane.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/websocket"

	"github.com/sfu-go/mediasoup"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// request is the tiny JSON-RPC-ish envelope this demo speaks over its
// WebSocket connection.
type request struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type response struct {
	ID    int         `json:"id"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func main() {
	ctx := context.Background()

	worker, err := mediasoup.NewWorker(ctx)
	if err != nil {
		log.Fatalf("spawning worker: %v", err)
	}
	defer worker.Close()

	router, err := worker.CreateRouter(ctx, mediasoup.RouterOptions{
		MediaCodecs: []mediasoup.RtpCodecCapability{
			{Kind: mediasoup.MediaKind_Audio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
			{Kind: mediasoup.MediaKind_Video, MimeType: "video/VP8", ClockRate: 90000},
		},
	})
	if err != nil {
		log.Fatalf("creating router: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/signaling", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}
		defer conn.Close()
		serveSignaling(ctx, router, conn)
	})

	addr := os.Getenv("MEDIASOUP_ECHO_DEMO_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func serveSignaling(ctx context.Context, router *mediasoup.Router, conn *websocket.Conn) {
	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			log.Println("read error:", err)
			return
		}

		resp := response{ID: req.ID}
		switch req.Method {
		case "getRouterRtpCapabilities":
			resp.Data = router.RtpCapabilities()

		case "createWebRtcTransport":
			transport, err := router.CreateWebRtcTransport(ctx, mediasoup.WebRtcTransportOptions{
				ListenIps: []mediasoup.TransportListenIp{{Ip: "0.0.0.0", AnnouncedIp: os.Getenv("MEDIASOUP_ANNOUNCED_IP")}},
				EnableUdp: true,
				EnableTcp: true,
				PreferUdp: true,
			})
			if err != nil {
				resp.Error = err.Error()
				break
			}
			resp.Data = map[string]interface{}{"id": transport.Id()}

		default:
			resp.Error = "unknown method: " + req.Method
		}

		if err := conn.WriteJSON(resp); err != nil {
			log.Println("write error:", err)
			return
		}
	}
}
