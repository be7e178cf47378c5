// Package tracing wires Langfuse into eino's global callback chain so every
// summarizer, router, and chat model call is traced without per-call plumbing.
package tracing

import (
	"log/slog"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/cograg-go/internal/config"
	"github.com/54b3r/cograg-go/internal/version"
)

// Setup registers a global Langfuse handler when LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY are set. The returned flush function must run before
// process exit; it is a no-op when tracing is disabled.
func Setup(log *slog.Logger) (flush func(), enabled bool) {
	publicKey := config.String("LANGFUSE_PUBLIC_KEY", "")
	secretKey := config.String("LANGFUSE_SECRET_KEY", "")
	if publicKey == "" || secretKey == "" {
		log.Debug("tracing: langfuse disabled")
		return func() {}, false
	}

	host := config.String("LANGFUSE_HOST", "http://localhost:3000")
	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "cograg",
		Release:   version.Version,
	})
	callbacks.AppendGlobalHandlers(handler)

	log.Info("tracing: langfuse enabled", slog.String("host", host))
	return flusher, true
}
