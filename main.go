package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"

	"github.com/letterfeed/letterfeed/atom"
	"github.com/letterfeed/letterfeed/config"
	"github.com/letterfeed/letterfeed/logger"
	"github.com/letterfeed/letterfeed/render"
	"github.com/letterfeed/letterfeed/server/delivery"
	"github.com/letterfeed/letterfeed/server/httpapi"
	"github.com/letterfeed/letterfeed/server/smtpd"
	"github.com/letterfeed/letterfeed/storage"
)

func main() {
	// Initialize with application defaults
	cfg := config.NewDefaultConfig()

	// Command-line flags override values from the config file if set. Their
	// default values come from the initial cfg for consistent -help messages.
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	fLogOutput := flag.String("logoutput", cfg.Logging.Output, "Log output: 'stderr', 'stdout', 'syslog', or file path (overrides config)")
	fLogLevel := flag.String("loglevel", cfg.Logging.Level, "Log level: 'debug', 'info', 'warn', 'error' (overrides config)")
	fDebug := flag.Bool("debug", false, "Print all SMTP commands and responses")

	fStartSMTP := flag.Bool("smtp", cfg.SMTP.Start, "Start the SMTP server (overrides config)")
	fSMTPAddr := flag.String("smtpaddr", cfg.SMTP.Addr, "SMTP server address (overrides config)")
	fStartHTTP := flag.Bool("http", cfg.HTTP.Start, "Start the HTTP server (overrides config)")
	fHTTPAddr := flag.String("httpaddr", cfg.HTTP.Addr, "HTTP server address (overrides config)")
	fBaseURL := flag.String("baseurl", cfg.HTTP.BaseURL, "Public base URL for feed links (overrides config)")

	fDataPath := flag.String("datapath", cfg.Storage.DataPath, "Directory for feed records (overrides config)")
	fMailboxHost := flag.String("mailboxhost", cfg.Mailbox.Host, "Domain suffix of receiving addresses (overrides config)")

	flag.Parse()

	// Values from the TOML file override the application defaults.
	if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
		if os.IsNotExist(err) {
			if isFlagSet("config") {
				log.Fatalf("Specified configuration file '%s' not found: %v", *configPath, err)
			}
			log.Printf("WARNING: Default configuration file '%s' not found. Using application defaults and command-line flags.", *configPath)
		} else {
			log.Fatalf("Error parsing configuration file '%s': %v", *configPath, err)
		}
	} else {
		log.Printf("Loaded configuration from %s", *configPath)
	}

	// Flags explicitly set on the command line override the TOML values.
	if isFlagSet("logoutput") {
		cfg.Logging.Output = *fLogOutput
	}
	if isFlagSet("loglevel") {
		cfg.Logging.Level = *fLogLevel
	}
	if isFlagSet("smtp") {
		cfg.SMTP.Start = *fStartSMTP
	}
	if isFlagSet("smtpaddr") {
		cfg.SMTP.Addr = *fSMTPAddr
	}
	if isFlagSet("http") {
		cfg.HTTP.Start = *fStartHTTP
	}
	if isFlagSet("httpaddr") {
		cfg.HTTP.Addr = *fHTTPAddr
	}
	if isFlagSet("baseurl") {
		cfg.HTTP.BaseURL = *fBaseURL
	}
	if isFlagSet("datapath") {
		cfg.Storage.DataPath = *fDataPath
	}
	if isFlagSet("mailboxhost") {
		cfg.Mailbox.Host = *fMailboxHost
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if !cfg.SMTP.Start && !cfg.HTTP.Start {
		log.Fatal("No servers enabled. Please enable at least one server (SMTP or HTTP).")
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	baseURL, err := cfg.ParsedBaseURL()
	if err != nil {
		logger.Fatal("invalid base URL", "error", err)
	}

	store, err := storage.New(cfg.Storage.DataPath, cfg.Storage.FeedSizeBudget)
	if err != nil {
		logger.Fatal("failed to open feed store", "path", cfg.Storage.DataPath, "error", err)
	}
	logger.Info("feed store opened", "path", cfg.Storage.DataPath, "feeds", len(store.List()))

	converter := render.NewConverter(baseURL)
	pipeline := delivery.NewPipeline(store, converter, cfg.Mailbox.Host)
	renderer := atom.NewRenderer(baseURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT and SIGTERM for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	errChan := make(chan error, 1)

	if cfg.SMTP.Start {
		smtpServer := smtpd.New(pipeline, smtpd.ServerOptions{
			Addr:           cfg.SMTP.Addr,
			Hostname:       cfg.SMTP.Hostname,
			MaxMessageSize: cfg.SMTP.MaxMessageSize,
			Debug:          *fDebug,
		})
		go smtpServer.Start(ctx, errChan)
	}
	if cfg.HTTP.Start {
		httpServer := httpapi.New(store, renderer, httpapi.ServerOptions{
			Addr:        cfg.HTTP.Addr,
			MailboxHost: cfg.Mailbox.Host,
		})
		go httpServer.Start(ctx, errChan)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errChan:
		logger.Fatal("server error", "error", err)
	}
}

// isFlagSet reports whether a flag was explicitly set on the command line.
func isFlagSet(name string) bool {
	isSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			isSet = true
		}
	})
	return isSet
}
