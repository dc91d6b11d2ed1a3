// Package server provides HTTP server configuration and lifecycle management
// with graceful shutdown. It wraps the standard http.Server.
//
// # Features
//
//   - Graceful shutdown bounded by a configurable timeout (30s by default)
//   - Read, write and idle timeouts and a header size limit, set through Config
//   - TLS from a *tls.Config, or from certificate and key files named in Config
//   - Run, a start-and-shutdown function for errgroup
//
// The package has no middleware, health check, metrics or signal handling of
// its own.
//
// # Basic Usage
//
// Create a server for an address and start it with a handler:
//
//	import "github.com/hwrig/testbed/core/server"
//
//	srv := server.New(":8080",
//		server.WithLogger(logger),
//		server.WithShutdownTimeout(10*time.Second),
//	)
//
//	// Start blocks until ctx is canceled (returning ctx.Err()) or the listener fails
//	if err := srv.Start(ctx, router); err != nil && !errors.Is(err, context.Canceled) {
//		log.Fatal("Server failed:", err)
//	}
//	_ = srv.Stop()
//
// # Server Configuration
//
// NewFromConfig builds a Server from a Config, whose fields carry SERVER_*
// env tags for core/config. Zero values keep the package defaults, and
// options passed after the Config are applied last:
//
//	var cfg server.Config
//	config.MustLoad(&cfg)
//
//	srv, err := server.NewFromConfig(cfg, server.WithLogger(logger))
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # TLS Configuration
//
// WithTLS serves HTTPS; the certificates must be in the *tls.Config:
//
//	cert, err := tls.LoadX509KeyPair("cert.pem", "key.pem")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	srv := server.New(":8443", server.WithTLS(&tls.Config{
//		Certificates: []tls.Certificate{cert},
//		MinVersion:   tls.VersionTLS12,
//	}))
//
// With NewFromConfig, setting both TLSCertFile and TLSKeyFile loads the pair
// the same way.
//
// # Graceful Shutdown
//
// Run returns a function for errgroup.Group.Go. It starts the server and,
// once ctx is canceled, calls Stop, which waits for in-flight requests for at
// most the shutdown timeout:
//
//	func main() {
//		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//		defer stop()
//
//		srv := server.New(":8080")
//
//		eg, ctx := errgroup.WithContext(ctx)
//		eg.Go(srv.Run(ctx, router))
//
//		if err := eg.Wait(); err != nil {
//			log.Fatal("Server failed:", err)
//		}
//	}
//
// # Best Practices
//
//   - Set appropriate timeouts for your use case
//   - Use TLS for production deployments
//   - Implement proper graceful shutdown
//   - Add health check endpoints for monitoring
//   - Use middleware for cross-cutting concerns
//   - Configure limits to prevent resource exhaustion
//   - Log server events for debugging and monitoring
//   - Handle signals for clean shutdown
//   - Test server configuration under load
//   - Monitor server metrics in production
package server
