// ABOUTME: Terminal chat client for development and smoke testing
// ABOUTME: Joins a room over websocket and reconciles history via the REST surface

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/fatih/color"

	"github.com/stingtao/chat/internal/config"
	"github.com/stingtao/chat/internal/reconcile"
	"github.com/stingtao/chat/internal/room"
	"github.com/stingtao/chat/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	server string
	token  string
	tenant string
	kind   string
	id     string
}

func parseArgs() (*options, error) {
	opts := &options{
		server: "localhost:8080",
		kind:   "direct",
	}
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value := arg, ""
		if eq := strings.IndexByte(arg, '='); eq >= 0 {
			name, value = arg[:eq], arg[eq+1:]
		} else {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			value = args[i+1]
			i++
		}
		switch name {
		case "--server":
			opts.server = value
		case "--token":
			opts.token = value
		case "--tenant":
			opts.tenant = value
		case "--kind":
			opts.kind = value
		case "--id":
			opts.id = value
		default:
			return nil, fmt.Errorf("unknown flag: %s", name)
		}
	}

	if opts.token == "" {
		return nil, fmt.Errorf("--token is required (mint one with chat-gateway token)")
	}
	if opts.tenant == "" || opts.id == "" {
		return nil, fmt.Errorf("--tenant and --id are required")
	}
	if opts.kind != "direct" && opts.kind != "group" {
		return nil, fmt.Errorf("--kind must be direct or group")
	}
	return opts, nil
}

func run() error {
	opts, err := parseArgs()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	wsURL := fmt.Sprintf("ws://%s/ws?token=%s&tenant=%s&kind=%s&id=%s",
		opts.server,
		url.QueryEscape(opts.token),
		url.QueryEscape(opts.tenant),
		opts.kind,
		url.QueryEscape(opts.id),
	)

	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("joining room: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("joining room: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "client exiting")

	color.Green("connected to %s (%s %s)", opts.server, opts.kind, opts.id)

	push := make(chan *room.Envelope, 64)
	rec := reconcile.New(push, &restPoller{opts: opts}, reconcileOptions(logger), logger)

	go rec.Run(ctx)

	go renderLoop(ctx, rec)
	go readLoop(ctx, cancel, conn, push)

	return sendLoop(ctx, opts)
}

// reconcileOptions derives reconciler tuning from the realtime section of
// the shared gateway config when one is readable; otherwise the reconciler
// runs on its defaults.
func reconcileOptions(logger *slog.Logger) reconcile.Options {
	path := os.Getenv("CHAT_CONFIG")
	if path == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return reconcile.Options{}
			}
			configDir = filepath.Join(homeDir, ".config")
		}
		path = filepath.Join(configDir, "chat", "gateway.yaml")
	}

	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("ignoring unreadable config", "path", path, "error", err)
		}
		return reconcile.Options{}
	}
	return reconcile.Options{
		Interval:    cfg.Realtime.PollInterval,
		PollTimeout: cfg.Realtime.PollTimeout,
		SeenTTL:     cfg.Realtime.SeenTTL,
		SeenMax:     cfg.Realtime.SeenMax,
	}
}

// readLoop feeds realtime frames into the reconciler and prints
// everything that is not a chat message.
func readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, push chan<- *room.Envelope) {
	defer cancel()
	defer close(push)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env room.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Kind {
		case room.KindNewMessage:
			select {
			case push <- &env:
			case <-ctx.Done():
				return
			}
		case room.KindUserOnline, room.KindUserOffline:
			var p struct {
				UserID string `json:"userId"`
			}
			_ = json.Unmarshal(env.Payload, &p)
			color.HiBlack("* %s is %s", p.UserID, strings.TrimPrefix(string(env.Kind), "user-"))
		case room.KindTypingStart:
			var p struct {
				SenderID string `json:"senderId"`
			}
			_ = json.Unmarshal(env.Payload, &p)
			color.HiBlack("* %s is typing...", p.SenderID)
		}
	}
}

// renderLoop reprints the visible tail whenever the reconciled sequence
// changes. The sequence is authoritative; no local bookkeeping needed.
func renderLoop(ctx context.Context, rec *reconcile.Reconciler) {
	var lastCursor string
	for {
		select {
		case <-ctx.Done():
			return
		case <-rec.Changes():
		}
		if rec.Cursor() == lastCursor {
			continue
		}
		lastCursor = rec.Cursor()
		msgs := rec.Snapshot()
		start := 0
		if len(msgs) > 20 {
			start = len(msgs) - 20
		}
		fmt.Print("\033[2J\033[H")
		for _, m := range msgs[start:] {
			ts := m.CreatedAt.Local().Format("15:04")
			fmt.Printf("%s %s: %s\n", color.HiBlackString(ts), color.CyanString(m.SenderID), m.Content)
		}
		fmt.Print("> ")
	}
}

func sendLoop(ctx context.Context, opts *options) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			fmt.Print("> ")
			continue
		}
		if text == "/quit" {
			return nil
		}
		if err := postMessage(ctx, opts, text); err != nil {
			color.Red("send failed: %v", err)
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

func postMessage(ctx context.Context, opts *options, content string) error {
	body := map[string]string{
		"tenantId": opts.tenant,
		"content":  content,
		"type":     "text",
	}
	if opts.kind == "group" {
		body["groupId"] = opts.id
	} else {
		body["receiverId"] = opts.id
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		fmt.Sprintf("http://%s/api/messages", opts.server), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+opts.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

// restPoller fetches recent history from the gateway's REST surface.
// Results arrive newest-first, matching what the reconciler expects.
type restPoller struct {
	opts *options
}

func (p *restPoller) Poll(ctx context.Context) ([]*store.Message, error) {
	q := url.Values{}
	q.Set("tenantId", p.opts.tenant)
	q.Set("limit", "50")
	if p.opts.kind == "group" {
		q.Set("groupId", p.opts.id)
	} else {
		q.Set("receiverId", p.opts.id)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s/api/messages?%s", p.opts.server, q.Encode()), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.opts.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing messages: status %d", resp.StatusCode)
	}

	var envelope struct {
		Success bool             `json:"success"`
		Data    []*store.Message `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return envelope.Data, nil
}
