package logger

import (
	"io"
	"log/slog"
	"os"
)

// Option configures the logger built by New.
type Option func(*config)

type config struct {
	level      slog.Leveler
	json       bool
	addSource  bool
	output     io.Writer
	attrs      []slog.Attr
	handlerOpt *slog.HandlerOptions
}

// WithLevel sets the minimum level the logger emits.
func WithLevel(level slog.Leveler) Option {
	return func(c *config) { c.level = level }
}

// WithJSONFormatter selects the JSON handler instead of the text handler.
func WithJSONFormatter() Option {
	return func(c *config) { c.json = true }
}

// WithOutput redirects log output, primarily for tests.
func WithOutput(w io.Writer) Option {
	return func(c *config) { c.output = w }
}

// WithAttr attaches attributes to every record emitted by the logger.
func WithAttr(attrs ...slog.Attr) Option {
	return func(c *config) { c.attrs = append(c.attrs, attrs...) }
}

// WithHandlerOptions overrides the underlying slog.HandlerOptions entirely.
func WithHandlerOptions(opts *slog.HandlerOptions) Option {
	return func(c *config) { c.handlerOpt = opts }
}

// WithDevelopment configures a human-readable, debug-level, source-annotated
// logger suitable for local development. component is attached to every record.
func WithDevelopment(component string) Option {
	return func(c *config) {
		c.level = slog.LevelDebug
		c.addSource = true
		c.json = false
		c.attrs = append(c.attrs, slog.String("component", component))
	}
}

// WithProduction configures a JSON, info-level logger for production use.
func WithProduction(component string) Option {
	return func(c *config) {
		c.level = slog.LevelInfo
		c.json = true
		c.attrs = append(c.attrs, slog.String("component", component))
	}
}

// WithStaging is an alias for WithProduction; staging mirrors production
// output shape so log pipelines don't need a third parser.
func WithStaging(component string) Option {
	return WithProduction(component)
}

// New builds a *slog.Logger from the given options. With no options it
// defaults to a production-shaped JSON logger at info level on stdout.
func New(opts ...Option) *slog.Logger {
	c := &config{
		level:  slog.LevelInfo,
		json:   true,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}

	handlerOpts := c.handlerOpt
	if handlerOpts == nil {
		handlerOpts = &slog.HandlerOptions{
			AddSource: c.addSource,
			Level:     c.level,
		}
	}

	var handler slog.Handler
	if c.json {
		handler = slog.NewJSONHandler(c.output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(c.output, handlerOpts)
	}

	if len(c.attrs) > 0 {
		handler = handler.WithAttrs(c.attrs)
	}

	return slog.New(handler)
}

// SetAsDefault installs l as the slog package-level default logger.
func SetAsDefault(l *slog.Logger) {
	slog.SetDefault(l)
}
