package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/vk"
	"golang.org/x/oauth2/yandex"

	"atlas-auth/internal/auth"
	"atlas-auth/internal/config"
)

// Provider binds an oauth2.Config to the userinfo endpoint and the mapping
// from the provider's payload shape to the common identity descriptor. The
// mapper receives the exchanged token as well: VK delivers the email in the
// token response instead of the userinfo payload.
type Provider struct {
	Name        string
	Config      *oauth2.Config
	UserInfoURL string

	// userInfoQuery, when set, authenticates the userinfo request through
	// query parameters instead of the token-bound client (VK's API style).
	userInfoQuery func(token *oauth2.Token) url.Values
	mapIdentity   func(payload map[string]any, token *oauth2.Token) (auth.Identity, error)
}

// Registry holds the configured providers keyed by name.
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry builds the provider set from configuration. Providers without
// client credentials are left out.
func NewRegistry(cfg config.Config) *Registry {
	providers := make(map[string]*Provider)
	redirect := func(name string) string {
		return strings.TrimRight(cfg.BaseURL, "/") + "/oauth/" + name + "/callback"
	}

	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		providers["google"] = &Provider{
			Name: "google",
			Config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				Endpoint:     google.Endpoint,
				RedirectURL:  redirect("google"),
				Scopes:       []string{"openid", "email", "profile"},
			},
			UserInfoURL: "https://www.googleapis.com/oauth2/v3/userinfo",
			mapIdentity: mapGoogleIdentity,
		}
	}

	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "" {
		providers["github"] = &Provider{
			Name: "github",
			Config: &oauth2.Config{
				ClientID:     cfg.GitHubClientID,
				ClientSecret: cfg.GitHubClientSecret,
				Endpoint:     github.Endpoint,
				RedirectURL:  redirect("github"),
				Scopes:       []string{"read:user", "user:email"},
			},
			UserInfoURL: "https://api.github.com/user",
			mapIdentity: mapGitHubIdentity,
		}
	}

	if cfg.YandexClientID != "" && cfg.YandexClientSecret != "" {
		providers["yandex"] = &Provider{
			Name: "yandex",
			Config: &oauth2.Config{
				ClientID:     cfg.YandexClientID,
				ClientSecret: cfg.YandexClientSecret,
				Endpoint:     yandex.Endpoint,
				RedirectURL:  redirect("yandex"),
				Scopes:       []string{"login:email", "login:info"},
			},
			UserInfoURL: "https://login.yandex.ru/info?format=json",
			mapIdentity: mapYandexIdentity,
		}
	}

	if cfg.VKClientID != "" && cfg.VKClientSecret != "" {
		providers["vk"] = &Provider{
			Name: "vk",
			Config: &oauth2.Config{
				ClientID:     cfg.VKClientID,
				ClientSecret: cfg.VKClientSecret,
				Endpoint:     vk.Endpoint,
				RedirectURL:  redirect("vk"),
				Scopes:       []string{"email"},
			},
			UserInfoURL: "https://api.vk.com/method/users.get",
			userInfoQuery: func(token *oauth2.Token) url.Values {
				return url.Values{
					"fields":       {"email"},
					"access_token": {token.AccessToken},
					"v":            {"5.131"},
				}
			},
			mapIdentity: mapVKIdentity,
		}
	}

	return &Registry{providers: providers}
}

// Empty reports whether no provider has credentials configured.
func (r *Registry) Empty() bool {
	return len(r.providers) == 0
}

// Lookup returns the named provider.
func (r *Registry) Lookup(name string) (*Provider, bool) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// FetchIdentity retrieves and maps the provider's userinfo payload. The
// request is authenticated through the token-bound HTTP client, or through
// query parameters for providers that require it.
func (p *Provider) FetchIdentity(ctx context.Context, token *oauth2.Token) (auth.Identity, error) {
	client := p.Config.Client(ctx, token)
	requestURL := p.UserInfoURL
	if p.userInfoQuery != nil {
		client = http.DefaultClient
		separator := "?"
		if strings.Contains(requestURL, "?") {
			separator = "&"
		}
		requestURL += separator + p.userInfoQuery(token).Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("fetch userinfo from %s: %w", p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return auth.Identity{}, fmt.Errorf("userinfo from %s returned status %d", p.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return auth.Identity{}, fmt.Errorf("read userinfo body: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return auth.Identity{}, fmt.Errorf("decode userinfo from %s: %w", p.Name, err)
	}

	identity, err := p.mapIdentity(payload, token)
	if err != nil {
		return auth.Identity{}, err
	}
	identity.Provider = p.Name

	return identity, nil
}

func mapGoogleIdentity(payload map[string]any, _ *oauth2.Token) (auth.Identity, error) {
	subject, _ := payload["sub"].(string)
	email, _ := payload["email"].(string)
	name, _ := payload["name"].(string)
	if name == "" {
		name, _ = payload["given_name"].(string)
	}
	return buildIdentity(subject, email, name)
}

func mapGitHubIdentity(payload map[string]any, _ *oauth2.Token) (auth.Identity, error) {
	subject := stringifyID(payload["id"])
	email, _ := payload["email"].(string)
	name, _ := payload["login"].(string)
	if name == "" {
		name, _ = payload["name"].(string)
	}
	return buildIdentity(subject, email, name)
}

func mapYandexIdentity(payload map[string]any, _ *oauth2.Token) (auth.Identity, error) {
	subject := stringifyID(payload["id"])
	email, _ := payload["default_email"].(string)
	name, _ := payload["display_name"].(string)
	if name == "" {
		name, _ = payload["real_name"].(string)
	}
	return buildIdentity(subject, email, name)
}

// VK wraps users.get results in a "response" array and returns the email in
// the token response rather than the userinfo payload.
func mapVKIdentity(payload map[string]any, token *oauth2.Token) (auth.Identity, error) {
	email, _ := token.Extra("email").(string)

	entries, _ := payload["response"].([]any)
	if len(entries) == 0 {
		return auth.Identity{}, fmt.Errorf("vk users.get returned no entries")
	}
	entry, _ := entries[0].(map[string]any)

	subject := stringifyID(entry["id"])
	first, _ := entry["first_name"].(string)
	last, _ := entry["last_name"].(string)
	name := strings.TrimSpace(first + " " + last)

	return buildIdentity(subject, email, name)
}

func buildIdentity(subject, email, name string) (auth.Identity, error) {
	if subject == "" {
		return auth.Identity{}, fmt.Errorf("userinfo payload has no subject id")
	}
	if strings.TrimSpace(email) == "" {
		return auth.Identity{}, fmt.Errorf("oauth provider returned no email")
	}
	return auth.Identity{Subject: subject, Email: email, Name: name}, nil
}

// GitHub, Yandex and VK return numeric ids; Google returns a string.
func stringifyID(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	}
	return ""
}
