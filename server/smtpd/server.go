// Package smtpd accepts inbound mail for mailbox addresses and hands fully
// parsed messages to the delivery pipeline. It speaks plain SMTP via
// emersion/go-smtp; anything the pipeline drops is still answered with a
// success code so senders cannot probe which mailbox references exist.
package smtpd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/letterfeed/letterfeed/logger"
	"github.com/letterfeed/letterfeed/server/delivery"
)

// ServerOptions holds configuration options for the SMTP server.
type ServerOptions struct {
	Addr           string
	Hostname       string // Hostname announced in the banner
	MaxMessageSize int64  // Maximum size for incoming messages in bytes
	Debug          bool   // Print all commands and responses
}

// Server is the inbound SMTP server.
type Server struct {
	addr   string
	server *smtp.Server
}

// New creates the SMTP server delivering through pipeline.
func New(pipeline *delivery.Pipeline, options ServerOptions) *Server {
	backend := &Backend{
		pipeline:       pipeline,
		maxMessageSize: options.MaxMessageSize,
	}

	server := smtp.NewServer(backend)
	server.Addr = options.Addr
	server.Domain = options.Hostname
	server.MaxMessageBytes = options.MaxMessageSize
	server.MaxRecipients = 100
	server.ReadTimeout = 2 * time.Minute
	server.WriteTimeout = 2 * time.Minute
	server.EnableSMTPUTF8 = true
	if options.Debug {
		server.Debug = os.Stdout
	}

	return &Server{addr: options.Addr, server: server}
}

// Start runs the server until ctx is canceled. Startup and serve failures are
// sent on errChan.
func (s *Server) Start(ctx context.Context, errChan chan error) {
	go func() {
		<-ctx.Done()
		logger.Info("shutting down SMTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down SMTP server", "error", err)
		}
	}()

	logger.Info("starting SMTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && ctx.Err() == nil {
		errChan <- fmt.Errorf("SMTP server failed: %w", err)
	}
}
