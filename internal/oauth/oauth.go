// Package oauth implements the authorization-code sign-in flow for the
// supported identity providers. It exchanges a callback code for an access
// token and fetches a normalized profile; account creation and session
// issuance happen elsewhere.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

var ErrUnknownProvider = errors.New("unknown oauth provider")

// Profile is the provider-agnostic result of a completed sign-in.
type Profile struct {
	Provider   string
	ProviderID string
	Email      string
	Name       string
	Image      string
}

type provider struct {
	config      *oauth2.Config
	userInfoURL string
	emailsURL   string
	decode      func(data []byte) (Profile, error)
}

// Service holds the configured providers. Providers with empty credentials
// are left unregistered and reported via ErrUnknownProvider.
type Service struct {
	providers map[string]*provider
}

type Config struct {
	GitHubClientID     string
	GitHubClientSecret string
	GoogleClientID     string
	GoogleClientSecret string
	RedirectURL        string
}

func NewService(cfg Config) *Service {
	s := &Service{providers: map[string]*provider{}}

	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "" {
		s.providers["github"] = &provider{
			config: &oauth2.Config{
				ClientID:     cfg.GitHubClientID,
				ClientSecret: cfg.GitHubClientSecret,
				RedirectURL:  cfg.RedirectURL,
				Scopes:       []string{"read:user", "user:email"},
				Endpoint:     github.Endpoint,
			},
			userInfoURL: "https://api.github.com/user",
			emailsURL:   "https://api.github.com/user/emails",
			decode:      decodeGitHubProfile,
		}
	}
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		s.providers["google"] = &provider{
			config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  cfg.RedirectURL,
				Scopes: []string{
					"https://www.googleapis.com/auth/userinfo.email",
					"https://www.googleapis.com/auth/userinfo.profile",
				},
				Endpoint: google.Endpoint,
			},
			userInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
			decode:      decodeGoogleProfile,
		}
	}
	return s
}

// AuthURL returns the provider's consent page URL for the given state.
func (s *Service) AuthURL(name, state string) (string, error) {
	p, ok := s.providers[name]
	if !ok {
		return "", ErrUnknownProvider
	}
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Exchange trades a callback code for the signed-in user's profile.
func (s *Service) Exchange(ctx context.Context, name, code string) (Profile, error) {
	p, ok := s.providers[name]
	if !ok {
		return Profile{}, ErrUnknownProvider
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("exchange %s code: %w", name, err)
	}

	client := p.config.Client(ctx, token)
	data, err := fetchJSON(ctx, client, p.userInfoURL)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch %s profile: %w", name, err)
	}

	profile, err := p.decode(data)
	if err != nil {
		return Profile{}, fmt.Errorf("decode %s profile: %w", name, err)
	}
	profile.Provider = name

	// GitHub hides the email on the user endpoint when the address is
	// private; fall back to the emails endpoint.
	if profile.Email == "" && p.emailsURL != "" {
		if email, err := fetchGitHubEmail(ctx, client, p.emailsURL); err == nil {
			profile.Email = email
		}
	}
	if profile.Email == "" {
		return Profile{}, fmt.Errorf("%s profile has no email", name)
	}
	return profile, nil
}

func fetchJSON(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func decodeGitHubProfile(data []byte) (Profile, error) {
	var raw struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Profile{}, err
	}
	name := raw.Name
	if name == "" {
		name = raw.Login
	}
	return Profile{
		ProviderID: strconv.FormatInt(raw.ID, 10),
		Email:      strings.ToLower(raw.Email),
		Name:       name,
		Image:      raw.AvatarURL,
	}, nil
}

func decodeGoogleProfile(data []byte) (Profile, error) {
	var raw struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Profile{}, err
	}
	name := raw.Name
	if name == "" {
		name = raw.Email
	}
	return Profile{
		ProviderID: raw.ID,
		Email:      strings.ToLower(raw.Email),
		Name:       name,
		Image:      raw.Picture,
	}, nil
}

func fetchGitHubEmail(ctx context.Context, client *http.Client, url string) (string, error) {
	data, err := fetchJSON(ctx, client, url)
	if err != nil {
		return "", err
	}
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(data, &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return strings.ToLower(e.Email), nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return strings.ToLower(e.Email), nil
		}
	}
	return "", errors.New("no verified email")
}
