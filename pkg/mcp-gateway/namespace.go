package mcpgateway

import (
	"net/url"
	"strings"
)

// NamespaceStrategy names upstream prompts and resources on the gateway.
// Implementations must be deterministic and collision-free across servers.
type NamespaceStrategy interface {
	PromptName(server, prompt string) string
	ResourceURI(server, uri string) string
	// NativeResourceURI reverses ResourceURI for the given server.
	NativeResourceURI(server, gatewayURI string) (string, bool)
}

// ServerPrefixNamespace joins the server name and the upstream prompt name
// with Separator ("__" when empty). Resource URIs are rewritten to
// toolhub://<server>/<escaped native uri>.
type ServerPrefixNamespace struct {
	Separator string
}

const resourceScheme = "toolhub://"

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "__"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) PromptName(server, prompt string) string {
	return server + s.separator() + prompt
}

func (s ServerPrefixNamespace) ResourceURI(server, uri string) string {
	return resourceScheme + url.PathEscape(server) + "/" + url.PathEscape(uri)
}

func (s ServerPrefixNamespace) NativeResourceURI(server, gatewayURI string) (string, bool) {
	prefix := resourceScheme + url.PathEscape(server) + "/"
	rest, ok := strings.CutPrefix(gatewayURI, prefix)
	if !ok {
		return "", false
	}
	native, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	return native, true
}
