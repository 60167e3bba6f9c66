package mcpgateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/cors"
)

// protectedResourceMetadata is the RFC 9728 document announcing which
// authorization server issues tokens for this gateway.
type protectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
}

func (g *Gateway) protectedResourceHandler() http.Handler {
	var scopes []string
	if g.opts.TokenOptions != nil {
		scopes = append(scopes, g.opts.TokenOptions.Scopes...)
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD, OPTIONS")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		doc := protectedResourceMetadata{
			Resource:               resourceURL(r, g.opts.Path),
			AuthorizationServers:   []string{g.opts.AuthorizationServer},
			BearerMethodsSupported: []string{"header"},
			ScopesSupported:        scopes,
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			g.opts.Logger.Warn("write protected resource metadata", "error", err)
		}
	})
	return cors.New(cors.Options{
		AllowedOrigins: g.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Mcp-Protocol-Version"},
	}).Handler(handler)
}

func resourceURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host + path
}
