package providers

import (
	"fmt"
	"os"
	"strings"
)

// Settings mirrors one providers.<name> config block.
type Settings struct {
	APIKey  string
	APIBase string
	Model   string
}

// New builds a provider by name. Unknown names are treated as
// OpenAI-compatible endpoints so local servers work without code changes.
func New(name string, s Settings) (Provider, error) {
	key := s.APIKey
	if key == "" {
		key = keyFromEnv(name)
	}
	switch name {
	case "dashscope":
		return NewDashScopeProvider(key, s.APIBase, s.Model), nil
	case "openai":
		return NewOpenAIProvider("openai", key, s.APIBase, orDefault(s.Model, "gpt-4o-mini")), nil
	case "":
		return nil, fmt.Errorf("provider name is empty")
	default:
		if s.APIBase == "" {
			return nil, fmt.Errorf("provider %q needs an apiBase", name)
		}
		return NewOpenAIProvider(name, key, s.APIBase, s.Model), nil
	}
}

func keyFromEnv(name string) string {
	return os.Getenv(strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_API_KEY")
}

func orDefault(v, d string) string {
	if v == "" {
		return d
	}
	return v
}
