package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/clawdbot/clawdbot/internal/gateway"
	"github.com/clawdbot/clawdbot/internal/sessions"
	"github.com/clawdbot/clawdbot/pkg/protocol"
)

// Exit codes: 0 clean, 1 error, 124 reply timeout.
const (
	exitOK      = 0
	exitError   = 1
	exitTimeout = 124
)

const replyTimeout = 2 * time.Minute

func chatCmd() *cobra.Command {
	var (
		agentName  string
		message    string
		sessionKey string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an agent through the running gateway",
		Long: `Chat with an agent via the running gateway.

Examples:
  clawdbot chat                           # Interactive REPL
  clawdbot chat -a coder                  # Chat with the "coder" agent
  clawdbot chat -m "What time is it?"     # One-shot message
  clawdbot chat -s agent:main:cli:dm:me   # Continue a session`,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runChat(agentName, message, sessionKey))
		},
	}

	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "agent id (default from routing config)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "one-shot message (omit for interactive mode)")
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "", "session key (default: per-CLI direct session)")
	return cmd
}

func runChat(agentName, message, sessionKey string) int {
	cfg := loadConfig()

	if agentName == "" {
		agentName = cfg.Routing.DefaultAgent
	}
	if sessionKey == "" {
		sessionKey = sessions.BuildSessionKey(agentName, "cli", sessions.ChatDirect, "local")
	}

	host := cfg.Gateway.Host
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot reach gateway at %s: %v\n", addr, err)
		fmt.Fprintln(os.Stderr, "Start it first:  clawdbot gateway")
		return exitError
	}
	defer conn.Close()

	if err := wsHello(conn, cfg.Gateway.Token); err != nil {
		fmt.Fprintf(os.Stderr, "Gateway auth failed: %v\n", err)
		return exitError
	}

	if message != "" {
		resp, code := wsChatSend(conn, agentName, sessionKey, message)
		if code != exitOK {
			return code
		}
		if resp != "" {
			fmt.Println(resp)
		}
		return exitOK
	}

	return runREPL(conn, agentName, sessionKey)
}

// replState carries the REPL's mutable bits so the input handler can be
// tested without a socket.
type replState struct {
	agentID    string
	sessionKey string
	history    []string
}

// replAction is what the REPL should do with one line of input.
type replAction int

const (
	replIgnore replAction = iota
	replSend
	replHandled // a "/" command that was processed locally
	replExit
)

// handleInput classifies one raw input line, recording non-empty lines
// into the input history. Output for local commands goes to out.
func (st *replState) handleInput(raw string, out *strings.Builder) replAction {
	line := strings.TrimSpace(raw)
	if line == "" {
		return replIgnore
	}
	st.history = append(st.history, line)

	if line == "exit" || line == "quit" {
		return replExit
	}
	if !strings.HasPrefix(line, "/") {
		return replSend
	}

	cmd, rest, _ := strings.Cut(line[1:], " ")
	switch cmd {
	case "exit", "quit":
		return replExit
	case "new":
		st.sessionKey = sessions.BuildSessionKey(st.agentID, "cli", sessions.ChatDirect, uuid.NewString()[:8])
		fmt.Fprintf(out, "New session: %s\n", st.sessionKey)
	case "session":
		fmt.Fprintf(out, "Session: %s\n", st.sessionKey)
	case "agent":
		if rest = strings.TrimSpace(rest); rest != "" {
			st.agentID = rest
		}
		fmt.Fprintf(out, "Agent: %s\n", st.agentID)
	case "history":
		for _, h := range st.history {
			fmt.Fprintln(out, h)
		}
	case "help":
		fmt.Fprintln(out, "Commands: /new /session /agent [id] /history /exit")
	default:
		fmt.Fprintf(out, "Unknown command %q (try /help)\n", "/"+cmd)
	}
	return replHandled
}

func runREPL(conn *websocket.Conn, agentName, sessionKey string) int {
	st := &replState{agentID: agentName, sessionKey: sessionKey}

	fmt.Fprintf(os.Stderr, "Clawdbot chat (agent: %s)\n", st.agentID)
	fmt.Fprintf(os.Stderr, "Session: %s\n", st.sessionKey)
	fmt.Fprintln(os.Stderr, "Type \"exit\" to quit, \"/help\" for commands")
	fmt.Fprintln(os.Stderr)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			return exitOK
		}

		var out strings.Builder
		action := st.handleInput(scanner.Text(), &out)
		if out.Len() > 0 {
			fmt.Fprint(os.Stderr, out.String())
		}

		switch action {
		case replExit:
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return exitOK
		case replSend:
			resp, code := wsChatSend(conn, st.agentID, st.sessionKey, st.history[len(st.history)-1])
			if code == exitTimeout {
				return code
			}
			if code != exitOK {
				continue
			}
			if resp != "" {
				fmt.Printf("\n%s\n\n", resp)
			}
		}
	}
}

// wsHello performs the hello handshake and waits for the snapshot.
func wsHello(conn *websocket.Conn, token string) error {
	hello := protocol.HelloFrame{
		Type:          protocol.FrameTypeHello,
		Role:          protocol.RoleCLI,
		ClientName:    "clawdbot-cli",
		ClientVersion: gateway.Version,
		Token:         token,
	}
	if err := conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	// The hub may push presence events before the snapshot lands.
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read hello reply: %w", err)
		}
		frameType, _ := protocol.ParseFrameType(raw)
		switch frameType {
		case protocol.FrameTypeSnapshot:
			return nil
		case protocol.FrameTypeEvent:
			continue
		}

		var resp protocol.ResponseFrame
		if err := json.Unmarshal(raw, &resp); err == nil && resp.Error != nil {
			return fmt.Errorf("%s", resp.Error.Message)
		}
		return fmt.Errorf("unexpected reply: %s", frameType)
	}
}

// wsChatSend submits a message and waits for the final chat event of its
// run, streaming partial output to stdout along the way.
func wsChatSend(conn *websocket.Conn, agentID, sessionKey, message string) (string, int) {
	reqID := uuid.NewString()[:8]
	params, _ := json.Marshal(map[string]any{
		"message":    message,
		"agentId":    agentID,
		"sessionKey": sessionKey,
	})
	req := protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     reqID,
		Method: "chat.send",
		Params: params,
	}
	if err := conn.WriteJSON(req); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return "", exitError
	}

	runID := ""
	streamed := false
	deadline := time.Now().Add(replyTimeout)
	for {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				fmt.Fprintln(os.Stderr, "Timed out waiting for a reply")
				return "", exitTimeout
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return "", exitError
		}

		frameType, _ := protocol.ParseFrameType(raw)
		switch frameType {
		case protocol.FrameTypeResponse:
			var resp protocol.ResponseFrame
			if json.Unmarshal(raw, &resp) != nil || resp.ID != reqID {
				continue
			}
			if !resp.OK {
				msg := "request rejected"
				if resp.Error != nil {
					msg = resp.Error.Message
				}
				fmt.Fprintln(os.Stderr, formatAgentError(fmt.Errorf("%s", msg)))
				return "", exitError
			}
			if payload, ok := resp.Payload.(map[string]any); ok {
				if id, ok := payload["runId"].(string); ok {
					runID = id
				}
			}

		case protocol.FrameTypeEvent:
			var evt protocol.EventFrame
			if json.Unmarshal(raw, &evt) != nil || evt.Event != protocol.EventChat {
				continue
			}
			id, _ := evt.Payload.GetString("runId")
			if runID != "" && id != runID {
				continue
			}
			state, _ := evt.Payload.GetString("state")
			text, _ := evt.Payload.GetString("text")
			switch state {
			case protocol.ChatStateStreaming:
				fmt.Print(text)
				streamed = true
			case protocol.ChatStateTool:
				name, _ := evt.Payload.GetString("toolName")
				fmt.Fprintf(os.Stderr, "  [tool] %s\n", name)
			case protocol.ChatStateFinal:
				if streamed {
					fmt.Println()
					return "", exitOK
				}
				if strings.HasPrefix(text, "Error: ") {
					fmt.Fprintln(os.Stderr, formatAgentError(fmt.Errorf("%s", strings.TrimPrefix(text, "Error: "))))
					return "", exitError
				}
				return text, exitOK
			}
		}
	}
}
