package embedder

import (
	"log/slog"
	"strings"

	"github.com/54b3r/cograg-go/internal/config"
)

// chatModelFragments identify chat/completion models, which produce poor
// embeddings when configured by mistake.
var chatModelFragments = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3",
	"llama3", "llama-3", "mistral", "mixtral", "gemma",
	"claude", "command-r", "deepseek-chat", "deepseek-r1",
	"qwen2.5:", "qwen3:", "glm-4", "doubao-pro",
}

func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, f := range chatModelFragments {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

// WarnMisconfiguration logs start-up warnings for embedding settings that
// are valid but likely wrong. It never fails.
func WarnMisconfiguration(log *slog.Logger) {
	if config.String("EMBEDDING_PROVIDER", "") == "" && config.String("MODEL_PROVIDER", "ollama") != "ollama" {
		log.Warn("embedder: EMBEDDING_PROVIDER is not set, inheriting MODEL_PROVIDER",
			slog.String("backend", Backend()),
		)
	}
	if model := config.String("EMBEDDING_MODEL", ""); model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. bge-m3, nomic-embed-text, text-embedding-3-small"),
		)
	}
}
