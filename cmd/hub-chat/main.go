// ABOUTME: Terminal chat client for the hub WebSocket surface
// ABOUTME: Streams deltas to the terminal, supports mid-turn cancellation

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/alphahub/hub/internal/ident"
	"github.com/alphahub/hub/internal/protocol"
)

// clientConfig is the optional TOML config at ~/.config/hub/chat.toml.
type clientConfig struct {
	ServerURL      string `toml:"server_url"`
	Token          string `toml:"token"`
	ConversationID string `toml:"conversation_id"`
}

var (
	statusColor = color.New(color.FgHiBlack)
	errorColor  = color.New(color.FgRed)
	doneColor   = color.New(color.FgGreen)
	promptColor = color.New(color.FgCyan, color.Bold)
)

func configPath() string {
	if envPath := os.Getenv("HUB_CHAT_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "hub", "chat.toml")
}

func loadConfig() clientConfig {
	cfg := clientConfig{ServerURL: "ws://127.0.0.1:8080"}
	if _, err := toml.DecodeFile(configPath(), &cfg); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "warning: ignoring config:", err)
	}
	return cfg
}

func main() {
	cfg := loadConfig()
	server := flag.String("server", cfg.ServerURL, "hub server URL (ws:// or wss://)")
	token := flag.String("token", cfg.Token, "bearer token")
	conversation := flag.String("conversation", cfg.ConversationID, "conversation id")
	flag.Parse()

	if *conversation == "" {
		*conversation = ident.NewID()
		statusColor.Fprintln(os.Stderr, "new conversation:", *conversation)
	}

	endpoint, err := url.Parse(*server)
	if err != nil {
		errorColor.Fprintln(os.Stderr, "invalid server URL:", err)
		os.Exit(1)
	}
	endpoint.Path = "/v1/ws/chat"
	endpoint.RawQuery = url.Values{"conversation_id": {*conversation}}.Encode()

	header := http.Header{}
	if *token != "" {
		header.Set("Authorization", "Bearer "+*token)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(endpoint.String(), header)
	if err != nil {
		if resp != nil {
			errorColor.Fprintln(os.Stderr, "connect failed:", resp.Status)
		} else {
			errorColor.Fprintln(os.Stderr, "connect failed:", err)
		}
		os.Exit(1)
	}
	defer conn.Close()

	// turnDone signals the reader saw the terminal frame for the
	// current turn, so the prompt loop can continue.
	turnDone := make(chan struct{}, 1)
	go readFrames(conn, turnDone)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		promptColor.Print("> ")
		line, ok := <-lines
		if !ok {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		if line == "/cancel" {
			statusColor.Println("nothing to cancel")
			continue
		}

		traceID := ident.NewTraceID()
		send(conn, protocol.StartTurnFrame{
			Type:            protocol.TypeStartTurn,
			TraceID:         traceID,
			ConversationID:  *conversation,
			ContentText:     line,
			ClientRequestID: ident.NewID(),
		})

		// stay responsive while the turn streams: /cancel is the only
		// meaningful input until the terminal frame arrives
		for waiting := true; waiting; {
			select {
			case l, ok := <-lines:
				if !ok {
					return
				}
				if strings.TrimSpace(l) == "/cancel" {
					send(conn, protocol.CancelFrame{Type: protocol.TypeCancel, TraceID: traceID, Reason: "user"})
				} else if strings.TrimSpace(l) != "" {
					statusColor.Println("turn in progress; /cancel to cancel")
				}
			case <-turnDone:
				waiting = false
			}
		}
	}
}

func send(conn *websocket.Conn, frame any) {
	if err := conn.WriteJSON(frame); err != nil {
		errorColor.Fprintln(os.Stderr, "send failed:", err)
		os.Exit(1)
	}
}

// readFrames renders server frames until the connection closes,
// signalling turnDone at each terminal frame.
func readFrames(conn *websocket.Conn, turnDone chan<- struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errorColor.Fprintln(os.Stderr, "\nconnection closed:", err)
			os.Exit(1)
		}

		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			continue
		}

		switch probe.Type {
		case protocol.TypeStatus:
			var f protocol.StatusFrame
			if json.Unmarshal(data, &f) == nil {
				statusColor.Println("[" + f.Stage + "]")
			}

		case protocol.TypeDelta:
			var f protocol.DeltaFrame
			if json.Unmarshal(data, &f) == nil {
				fmt.Print(f.Delta)
			}

		case protocol.TypeDone:
			var f protocol.DoneFrame
			if json.Unmarshal(data, &f) == nil {
				fmt.Println()
				if f.Error != nil {
					errorColor.Printf("[%s] %s: %s\n", f.Reason, f.Error.Code, f.Error.Message)
				} else {
					doneColor.Printf("[%s] in=%d out=%d\n", f.Reason, f.Usage.InputTokens, f.Usage.OutputTokens)
				}
				for _, wng := range f.CapabilityWarnings {
					errorColor.Printf("capability %s is %s\n", wng.Name, wng.Status)
				}
			}
			turnDone <- struct{}{}
		}
	}
}
