package provider

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/sametakofficial/cachevoice/internal/config"
)

// HTTPProvider is a generic Synthesizer over a JSON HTTP TTS endpoint. Real
// upstream providers are out of scope for the core (spec §1: "only their
// synthesize contract is assumed"); this adapter exists so the fallback
// chain has a concrete, wireable implementation rather than only an
// interface.
type HTTPProvider struct {
    name     string
    endpoint string
    apiKey   string
    client   *http.Client
}

// NewHTTPProvider builds a Factory producing HTTPProvider instances, one
// per configured provider name. endpointFor maps a provider name to its
// base URL.
func NewHTTPProvider(endpointFor func(name string) string) Factory {
    return func(name string, cfg config.ProviderConfig) Synthesizer {
        timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
        if timeout <= 0 {
            timeout = 30 * time.Second
        }
        return &HTTPProvider{
            name:     name,
            endpoint: endpointFor(name),
            apiKey:   cfg.APIKey,
            client:   &http.Client{Timeout: timeout},
        }
    }
}

type httpSynthesizeRequest struct {
    Text  string `json:"text"`
    Voice string `json:"voice"`
    Model string `json:"model,omitempty"`
}

// Synthesize POSTs {text, voice, model} and returns the raw response body
// as audio bytes. A non-2xx status below 500 is treated as non-eligible
// (validation/auth); 5xx and transport errors are fallback-eligible.
func (p *HTTPProvider) Synthesize(ctx context.Context, text, voice, model string) ([]byte, error) {
    body, err := json.Marshal(httpSynthesizeRequest{Text: text, Voice: voice, Model: model})
    if err != nil {
        return nil, err
    }

    req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
    if err != nil {
        return nil, err
    }
    req.Header.Set("Content-Type", "application/json")
    if p.apiKey != "" {
        req.Header.Set("Authorization", "Bearer "+p.apiKey)
    }

    resp, err := p.client.Do(req)
    if err != nil {
        return nil, &ContextError{Err: err, FallbackEligible: true}
    }
    defer resp.Body.Close()

    audio, err := io.ReadAll(resp.Body)
    if err != nil {
        return nil, &ContextError{Err: err, FallbackEligible: true}
    }

    if resp.StatusCode >= 500 {
        return nil, &ContextError{Err: fmt.Errorf("provider %s: server error %d", p.name, resp.StatusCode), FallbackEligible: true}
    }
    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        return nil, &ContextError{Err: fmt.Errorf("provider %s: rejected request with status %d", p.name, resp.StatusCode), FallbackEligible: false}
    }

    return audio, nil
}
