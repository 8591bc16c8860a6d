package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/clawdbot/clawdbot/pkg/protocol"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runStatus())
		},
	}
}

func runStatus() int {
	cfg := loadConfig()

	host := cfg.Gateway.Host
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		fmt.Printf("Gateway: not running (%s)\n", addr)
		return exitError
	}
	defer conn.Close()

	if err := wsHello(conn, cfg.Gateway.Token); err != nil {
		fmt.Fprintf(os.Stderr, "Gateway auth failed: %v\n", err)
		return exitError
	}

	req := protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     "status-1",
		Method: "status",
	}
	if err := conn.WriteJSON(req); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitError
		}
		frameType, _ := protocol.ParseFrameType(raw)
		if frameType != protocol.FrameTypeResponse {
			continue
		}
		var resp protocol.ResponseFrame
		if json.Unmarshal(raw, &resp) != nil || resp.ID != "status-1" {
			continue
		}
		if !resp.OK {
			msg := "status request failed"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			fmt.Fprintln(os.Stderr, msg)
			return exitError
		}
		pretty, _ := json.MarshalIndent(resp.Payload, "", "  ")
		fmt.Printf("Gateway: running (%s)\n%s\n", addr, pretty)
		return exitOK
	}
}
