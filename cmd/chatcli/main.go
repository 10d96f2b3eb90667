package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mbeoliero/kit/log"

	"github.com/duvallglobal/theportal-sub000/internal/config"
	"github.com/duvallglobal/theportal-sub000/sdk"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	userId := flag.String("user", "", "user id to log in as")
	password := flag.String("password", "", "password (or set PORTAL_PASSWORD)")
	flag.Parse()

	ctx := context.TODO()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.CtxWarn(ctx, "failed to load config, using defaults: %v", err)
		cfg = config.Default()
	}

	pass := *password
	if pass == "" {
		pass = os.Getenv("PORTAL_PASSWORD")
	}

	var opts []sdk.Option
	if token := os.Getenv("PORTAL_TOKEN"); token != "" {
		opts = append(opts, sdk.WithToken(token))
	}

	engine, err := sdk.NewEngine(cfg, opts...)
	if err != nil {
		log.CtxError(ctx, "failed to create engine: %v", err)
		panic(err)
	}
	defer engine.Close()

	if *userId != "" {
		info, err := engine.Login(ctx, *userId, pass)
		if err != nil {
			log.CtxError(ctx, "login failed: %v", err)
			panic(err)
		}
		log.CtxInfo(ctx, "logged in: user_id=%s, nickname=%s", info.Id, info.Nickname)
	}

	if err := engine.Start(ctx); err != nil {
		log.CtxError(ctx, "failed to start engine: %v", err)
		panic(err)
	}

	updates, unsubscribe := engine.Subscribe()
	defer unsubscribe()

	go func() {
		for range updates {
			printConversations(engine)
		}
	}()

	// stdin: "<conversation_id> <text>" sends a message
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			parts := strings.SplitN(scanner.Text(), " ", 2)
			if len(parts) != 2 {
				fmt.Println("usage: <conversation_id> <text>")
				continue
			}
			if _, err := engine.SendMessage(ctx, parts[0], parts[1]); err != nil {
				fmt.Printf("send failed: %v\n", err)
				continue
			}
			engine.SetFocus(parts[0])
			if err := engine.MarkRead(ctx, parts[0]); err != nil {
				log.CtxWarn(ctx, "mark read failed: %v", err)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.CtxInfo(ctx, "shutting down")
}

func printConversations(engine *sdk.Engine) {
	status := "offline"
	if engine.IsConnected() {
		status = "online"
	}
	fmt.Printf("--- conversations (%s) ---\n", status)
	for _, conv := range engine.Conversations() {
		fmt.Printf("%-24s unread=%-3d %s\n", conv.Id, conv.UnreadCount, conv.LastMessage)
	}
}
