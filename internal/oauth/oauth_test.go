package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"
)

// fakeProvider spins up a stub token + profile server and registers it under
// the given provider name.
func fakeProvider(t *testing.T, svc *Service, name string, profileJSON, emailsJSON string) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok_test","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(profileJSON))
	})
	mux.HandleFunc("/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(emailsJSON))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := &provider{
		config: &oauth2.Config{
			ClientID:     "id",
			ClientSecret: "secret",
			Endpoint: oauth2.Endpoint{
				AuthURL:  srv.URL + "/authorize",
				TokenURL: srv.URL + "/token",
			},
		},
		userInfoURL: srv.URL + "/user",
		decode:      decodeGitHubProfile,
	}
	if emailsJSON != "" {
		p.emailsURL = srv.URL + "/emails"
	}
	svc.providers[name] = p
}

func TestExchangeReturnsProfile(t *testing.T) {
	svc := NewService(Config{})
	fakeProvider(t, svc, "github", `{"id":42,"login":"zahin","name":"Zahin","email":"Zahin@Example.com","avatar_url":"https://img.test/a.png"}`, "")

	got, err := svc.Exchange(context.Background(), "github", "code123")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if got.Provider != "github" || got.ProviderID != "42" {
		t.Fatalf("got identity %s/%s", got.Provider, got.ProviderID)
	}
	if got.Email != "zahin@example.com" {
		t.Fatalf("got email %q, want lowercased", got.Email)
	}
	if got.Name != "Zahin" || got.Image != "https://img.test/a.png" {
		t.Fatalf("unexpected profile: %+v", got)
	}
}

func TestExchangeFallsBackToEmailsEndpoint(t *testing.T) {
	svc := NewService(Config{})
	fakeProvider(t, svc, "github",
		`{"id":7,"login":"ghost","email":null}`,
		`[{"email":"alt@example.com","primary":false,"verified":true},{"email":"main@example.com","primary":true,"verified":true}]`)

	got, err := svc.Exchange(context.Background(), "github", "code123")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if got.Email != "main@example.com" {
		t.Fatalf("got email %q, want primary verified", got.Email)
	}
	if got.Name != "ghost" {
		t.Fatalf("got name %q, want login fallback", got.Name)
	}
}

func TestExchangeRejectsMissingEmail(t *testing.T) {
	svc := NewService(Config{})
	fakeProvider(t, svc, "github", `{"id":9,"login":"noemail","email":null}`, "")

	if _, err := svc.Exchange(context.Background(), "github", "code123"); err == nil {
		t.Fatal("expected error for profile without email")
	}
}

func TestUnknownProvider(t *testing.T) {
	svc := NewService(Config{})
	if _, err := svc.Exchange(context.Background(), "gitlab", "code123"); err != ErrUnknownProvider {
		t.Fatalf("got %v, want ErrUnknownProvider", err)
	}
	if _, err := svc.AuthURL("gitlab", "state"); err != ErrUnknownProvider {
		t.Fatalf("got %v, want ErrUnknownProvider", err)
	}
}

func TestNewServiceSkipsUnconfiguredProviders(t *testing.T) {
	svc := NewService(Config{GitHubClientID: "id", GitHubClientSecret: "secret", RedirectURL: "https://app.test/callback"})
	if _, err := svc.AuthURL("github", "state"); err != nil {
		t.Fatalf("github should be configured: %v", err)
	}
	if _, err := svc.AuthURL("google", "state"); err != ErrUnknownProvider {
		t.Fatalf("google should be unconfigured, got %v", err)
	}
}
