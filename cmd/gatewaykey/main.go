package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/gabrielee5/grafo-sub000/internal/infra"
	"github.com/gabrielee5/grafo-sub000/internal/infra/credentials"
	"github.com/gabrielee5/grafo-sub000/internal/kv"
)

func main() {
	var (
		keyFlag      string
		providerFlag string
	)
	flag.StringVar(&keyFlag, "key", "", "API key for the selected provider (falls back to the environment)")
	flag.StringVar(&providerFlag, "provider", credentials.ProviderGemini, "gateway to configure (gemini or openai)")
	flag.Parse()

	provider := strings.TrimSpace(strings.ToLower(providerFlag))
	switch provider {
	case credentials.ProviderGemini, credentials.ProviderOpenAI:
	case "":
		provider = credentials.ProviderGemini
	default:
		fmt.Fprintf(os.Stderr, "unsupported provider %q\n", providerFlag)
		os.Exit(1)
	}

	key, err := resolveKey(provider, keyFlag, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.KVBackend == "memory" {
		fmt.Fprintln(os.Stderr, "KV_BACKEND=memory cannot persist keys; use redis or postgres")
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel).With().Str("cmd", "gatewaykey").Str("provider", provider).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	backend, err := kv.Open(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer backend.Close()

	if err := credentials.NewStore(backend.Store).SetToken(ctx, provider, key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist %s api key: %v\n", provider, err)
		os.Exit(1)
	}
	fmt.Printf("%s API key stored successfully\n", strings.ToUpper(provider))
}

// Test seams for the terminal prompt.
var (
	isTerminal   = term.IsTerminal
	readPassword = term.ReadPassword
	stdinFD      = func() int { return int(os.Stdin.Fd()) }
)

var errNoKey = errors.New("API key is required via -key, the environment or an interactive prompt")

// resolveKey prefers the flag, then the provider's environment variable, then
// an echo-free prompt when stdin is a terminal.
func resolveKey(provider, fromFlag string, w io.Writer) (string, error) {
	if key := strings.TrimSpace(fromFlag); key != "" {
		return key, nil
	}
	envName := "GEMINI_API_KEY"
	if provider == credentials.ProviderOpenAI {
		envName = "OPENAI_API_KEY"
	}
	if key := strings.TrimSpace(os.Getenv(envName)); key != "" {
		return key, nil
	}

	fd := stdinFD()
	if !isTerminal(fd) {
		return "", fmt.Errorf("%s %w", strings.ToUpper(provider), errNoKey)
	}
	fmt.Fprintf(w, "%s API key: ", strings.ToUpper(provider))
	raw, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read key: %w", err)
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return "", fmt.Errorf("%s %w", strings.ToUpper(provider), errNoKey)
	}
	return key, nil
}
