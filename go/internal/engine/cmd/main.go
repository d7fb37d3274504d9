package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bidhaus/bidhaus/go/clients/auctionapi"
	"github.com/bidhaus/bidhaus/go/internal/auction"
	"github.com/bidhaus/bidhaus/go/internal/engine"
	"github.com/bidhaus/bidhaus/go/internal/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	apiURL := flag.String("api", getEnv("AUCTION_API_URL", "http://localhost:8080"), "auction REST base URL")
	wsURL := flag.String("ws", getEnv("AUCTION_WS_URL", "ws://localhost:8080/ws/auctions"), "auction room WebSocket URL")
	userID := flag.String("user", getEnv("AUCTION_USER_ID", ""), "bidder user id")
	username := flag.String("username", getEnv("AUCTION_USERNAME", ""), "bidder display name")
	flag.Parse()

	auctionIDs := flag.Args()
	if len(auctionIDs) == 0 {
		fmt.Fprintln(os.Stderr, "usage: watcher [flags] <auction-id> [auction-id ...]")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := auctionapi.NewClient(*apiURL)
	if *userID != "" {
		api.SetHeader("X-User-Id", *userID)
		api.SetHeader("X-Username", *username)
	}

	wsEndpoint := *wsURL
	if *userID != "" {
		wsEndpoint = fmt.Sprintf("%s?userId=%s&username=%s", *wsURL, *userID, *username)
	}
	ws := transport.NewWSTransport(transport.DefaultWSConfig(wsEndpoint))

	client := engine.NewClient(engine.Config{
		Transport: ws,
		Fetcher:   api,
		Logger:    log.Logger,
	})

	// Replay room membership after every reconnect.
	ws.OnReconnect = func() {
		client.Rooms().Rejoin(ctx)
	}

	if err := ws.Start(ctx); err != nil {
		log.Fatal().Err(err).Str("url", *wsURL).Msg("failed to connect to auction gateway")
	}
	defer ws.Close()

	client.Start(ctx)
	defer client.Close()

	facades := make(map[string]*engine.Facade, len(auctionIDs))
	var wg sync.WaitGroup

	for _, id := range auctionIDs {
		facade, err := client.Watch(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("auction_id", id).Msg("failed to watch auction")
			continue
		}
		facades[id] = facade
		defer facade.Close()

		wg.Add(1)
		go func(id string, facade *engine.Facade) {
			defer wg.Done()
			printUpdates(id, facade)
		}(id, facade)
	}
	if len(facades) == 0 {
		log.Fatal().Msg("no auctions could be watched")
	}

	// Read bid commands from stdin: "bid <auction-id> <amount>".
	if *userID != "" {
		go readCommands(ctx, facades, *userID, *username)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	for _, facade := range facades {
		facade.Close()
	}
	cancel()
	wg.Wait()
}

func printUpdates(id string, facade *engine.Facade) {
	var lastPhase string
	var lastPrice float64

	for update := range facade.Updates() {
		phase := string(update.DisplayPhase)
		price := update.Snapshot.CurrentPrice

		event := log.Info().
			Str("auction_id", id).
			Str("phase", phase).
			Float64("price", price)
		if !update.Snapshot.Phase.Terminal() {
			event = event.Dur("remaining", update.Remaining)
		}
		if update.LocallyExpired {
			event = event.Bool("awaiting_close", true)
		}

		if phase != lastPhase || price != lastPrice {
			event.Msg("auction update")
		} else {
			event.Msg("tick")
		}
		lastPhase, lastPrice = phase, price
	}
	log.Info().Str("auction_id", id).Msg("subscription closed")
}

func readCommands(ctx context.Context, facades map[string]*engine.Facade, userID, username string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 || fields[0] != "bid" {
			fmt.Fprintln(os.Stderr, "commands: bid <auction-id> <amount>")
			continue
		}

		facade, ok := facades[fields[1]]
		if !ok {
			fmt.Fprintf(os.Stderr, "not watching auction %s\n", fields[1])
			continue
		}
		amount, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad amount %q\n", fields[2])
			continue
		}

		go func(auctionID string, amount float64) {
			outcome, err := facade.SubmitBid(ctx, amount, auction.UserRef{ID: userID, Username: username})
			if err != nil {
				log.Error().Err(err).Str("auction_id", auctionID).Msg("bid failed")
				return
			}
			log.Info().
				Str("auction_id", auctionID).
				Str("outcome", string(outcome.Kind)).
				Str("reason", outcome.Reason).
				Float64("amount", amount).
				Msg("bid resolved")
		}(fields[1], amount)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
