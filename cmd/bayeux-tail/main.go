// Command bayeux-tail connects to a Bayeux endpoint, subscribes to the
// channels named on the command line, and logs every message it receives
// until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	bayeux "github.com/WoodyZantzinger/python-bayeux"
	"github.com/WoodyZantzinger/python-bayeux/extensions/replay"
	"github.com/WoodyZantzinger/python-bayeux/extensions/salesforce"
)

type config struct {
	Hostname    string
	Port        uint
	Protocol    string
	Path        string
	LogLevel    string
	AccessToken string
}

func main() {
	var cfg config
	flags := flag.NewFlagSet("bayeux-tail", flag.ExitOnError)
	flags.StringVar(&cfg.Protocol, "protocol", "https", "the protocol to use (http or https)")
	flags.UintVar(&cfg.Port, "port", 443, "the port used to connect to the Bayeux server")
	flags.StringVar(&cfg.Hostname, "hostname", "", "the hostname to connect to")
	flags.StringVar(&cfg.Path, "path", "/cometd/58.0", "the path used to connect to bayeux")
	flags.StringVar(&cfg.LogLevel, "loglevel", "info", "the level to log at (debug, info, warn, error)")
	flags.StringVar(&cfg.AccessToken, "token", "", "a Salesforce OAuth access token; when set, requests are authenticated via extensions/salesforce")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Printf("error parsing flags: %q\n", err)
		os.Exit(1)
	}
	channelNames := flags.Args()
	if len(channelNames) == 0 {
		fmt.Println("usage: bayeux-tail [flags] channel [channel...]")
		os.Exit(1)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	var opts []bayeux.Option
	opts = append(opts, bayeux.WithLogrusLogger(logger))
	opts = append(opts, bayeux.WithExtension(replay.New(replay.NewMapStorage())))
	if cfg.AccessToken != "" {
		opts = append(opts, bayeux.WithHTTPTransport(&salesforce.StaticTokenAuthenticator{
			Token:     cfg.AccessToken,
			Transport: http.DefaultTransport,
			Logger:    bayeux.NewLogrusLogger(logger),
		}))
	}

	u := url.URL{Scheme: cfg.Protocol, Host: fmt.Sprintf("%s:%d", cfg.Hostname, cfg.Port), Path: cfg.Path}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	session, err := bayeux.NewSession(ctx, u.String(), opts...)
	if err != nil {
		fmt.Printf("error initializing session: %q\n", err)
		os.Exit(1)
	}
	defer session.Close()

	for _, name := range channelNames {
		channel := bayeux.Channel(name)
		if err := session.Subscribe(channel, logMessage(logger)); err != nil {
			fmt.Printf("error subscribing to %s: %q\n", name, err)
			os.Exit(1)
		}
	}

	if err := session.Go(ctx); err != nil {
		fmt.Printf("error starting session: %q\n", err)
		os.Exit(2)
	}

	<-ctx.Done()
	logger.Info("shutting down")
}

func logMessage(logger *logrus.Logger) bayeux.Callback {
	return func(ctx context.Context, m bayeux.Message) {
		logger.WithFields(logrus.Fields{
			"channel": m.Channel,
			"data":    string(m.Data),
		}).Info("received message")
	}
}
