package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Config serves short-lived access tokens obtained with the client
// credentials grant. IDs limits which secret ids the provider answers; an
// empty list answers every id.
type OAuth2Config struct {
	TokenURL     string   `mapstructure:"token_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
	IDs          []string `mapstructure:"ids"`
}

type oauth2Provider struct{ c OAuth2Config }

// NewOAuth2Provider validates c and returns a Provider.
func NewOAuth2Provider(c OAuth2Config) (Provider, error) {
	if strings.TrimSpace(c.TokenURL) == "" {
		return nil, errors.New("oauth2: token_url is required for client_credentials grant")
	}
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return nil, errors.New("oauth2: client_id and client_secret are required for client_credentials grant")
	}
	return &oauth2Provider{c: c}, nil
}

func (p *oauth2Provider) serves(id string) bool {
	if len(p.c.IDs) == 0 {
		return true
	}
	for _, x := range p.c.IDs {
		if x == id {
			return true
		}
	}
	return false
}

func (p *oauth2Provider) Resolve(ctx context.Context, id string) (Secret, error) {
	if !p.serves(id) {
		return Secret{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cc := &clientcredentials.Config{
		ClientID:     strings.TrimSpace(p.c.ClientID),
		ClientSecret: strings.TrimSpace(p.c.ClientSecret),
		TokenURL:     strings.TrimSpace(p.c.TokenURL),
		Scopes:       p.c.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return Secret{}, fmt.Errorf("oauth2: %w", err)
	}
	if tok.AccessToken == "" {
		return Secret{}, errors.New("oauth2: empty access token")
	}
	return Secret{Value: tok.AccessToken}, nil
}
