package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/abdul-hamid-achik/stagespec/packages/http"
)

// decodeSpec decodes a loosely-typed mapping into a config struct, rejecting
// unknown keys.
func decodeSpec(spec map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(spec)
}

type basicConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type tokenConfig struct {
	Token  string `mapstructure:"token"`
	Header string `mapstructure:"header"`
	Scheme string `mapstructure:"scheme"`
}

type apiKeyConfig struct {
	Key    string `mapstructure:"key"`
	Header string `mapstructure:"header"`
	Query  string `mapstructure:"query"`
}

type awsConfig struct {
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	SessionToken string `mapstructure:"session_token"`
	Region       string `mapstructure:"region"`
	Service      string `mapstructure:"service"`
}

// ClientCredentialsConfig configures the oauth2 client-credentials grant.
type ClientCredentialsConfig struct {
	TokenURL     string            `mapstructure:"token_url"`
	ClientID     string            `mapstructure:"client_id"`
	ClientSecret string            `mapstructure:"client_secret"`
	Scopes       []string          `mapstructure:"scopes"`
	Params       map[string]string `mapstructure:"params"`
	Header       string            `mapstructure:"header"`
}

// JWTConfig configures HS256 tokens minted per request.
type JWTConfig struct {
	Secret   string         `mapstructure:"secret"`
	Subject  string         `mapstructure:"sub"`
	Issuer   string         `mapstructure:"iss"`
	Audience []string       `mapstructure:"aud"`
	TTL      time.Duration  `mapstructure:"ttl"`
	Claims   map[string]any `mapstructure:"claims"`
	Header   string         `mapstructure:"header"`
}

func (r *Registry) registerDefaults() {
	r.factories["basic"] = func(spec map[string]any) (http.Authenticator, error) {
		var c basicConfig
		if err := decodeSpec(spec, &c); err != nil {
			return nil, err
		}
		if c.Username == "" {
			return nil, errors.New("username is required")
		}
		return &http.BasicAuth{Username: c.Username, Password: c.Password}, nil
	}

	r.factories["bearer"] = func(spec map[string]any) (http.Authenticator, error) {
		var c tokenConfig
		if err := decodeSpec(spec, &c); err != nil {
			return nil, err
		}
		if c.Token == "" {
			return nil, errors.New("token is required")
		}
		return &http.TokenAuth{Token: c.Token, Header: c.Header, Scheme: c.Scheme}, nil
	}

	r.factories["api_key"] = func(spec map[string]any) (http.Authenticator, error) {
		var c apiKeyConfig
		if err := decodeSpec(spec, &c); err != nil {
			return nil, err
		}
		switch {
		case c.Key == "":
			return nil, errors.New("key is required")
		case c.Header != "" && c.Query != "":
			return nil, errors.New("use only one of header or query")
		case c.Query != "":
			return &http.QueryAuth{Param: c.Query, Value: c.Key}, nil
		case c.Header == "":
			c.Header = "X-API-Key"
		}
		return &http.TokenAuth{Token: c.Key, Header: c.Header}, nil
	}

	r.factories["digest"] = func(spec map[string]any) (http.Authenticator, error) {
		var c basicConfig
		if err := decodeSpec(spec, &c); err != nil {
			return nil, err
		}
		if c.Username == "" {
			return nil, errors.New("username is required")
		}
		return &http.DigestAuthenticator{Username: c.Username, Password: c.Password}, nil
	}

	r.factories["aws"] = func(spec map[string]any) (http.Authenticator, error) {
		var c awsConfig
		if err := decodeSpec(spec, &c); err != nil {
			return nil, err
		}
		if c.AccessKey == "" || c.SecretKey == "" || c.Region == "" || c.Service == "" {
			return nil, errors.New("access_key, secret_key, region and service are required")
		}
		return &http.SigV4Auth{
			AccessKey:    c.AccessKey,
			SecretKey:    c.SecretKey,
			SessionToken: c.SessionToken,
			Region:       c.Region,
			Service:      c.Service,
		}, nil
	}

	r.factories["oauth2"] = func(spec map[string]any) (http.Authenticator, error) {
		var c ClientCredentialsConfig
		if err := decodeSpec(spec, &c); err != nil {
			return nil, err
		}
		return NewClientCredentials(c)
	}

	r.factories["jwt"] = func(spec map[string]any) (http.Authenticator, error) {
		var c JWTConfig
		if err := decodeSpec(spec, &c); err != nil {
			return nil, err
		}
		return NewJWTAuth(c)
	}

	r.save["regex"] = SaveFunc(regexSave)
	r.save["jwt_claims"] = SaveFunc(jwtClaimsSave)
	r.verify["regex"] = VerifyFunc(regexVerify)
}

// ClientCredentials fetches and caches an oauth2 token, refreshing it when
// it expires.
type ClientCredentials struct {
	cfg    *clientcredentials.Config
	header string

	mu    sync.Mutex
	token *oauth2.Token
}

func NewClientCredentials(c ClientCredentialsConfig) (*ClientCredentials, error) {
	tokenURL := strings.TrimSpace(c.TokenURL)
	if tokenURL == "" {
		return nil, errors.New("token_url is required")
	}
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return nil, errors.New("client_id and client_secret are required")
	}
	cc := &clientcredentials.Config{
		ClientID:     strings.TrimSpace(c.ClientID),
		ClientSecret: strings.TrimSpace(c.ClientSecret),
		TokenURL:     tokenURL,
		Scopes:       c.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if len(c.Params) > 0 {
		cc.EndpointParams = make(map[string][]string, len(c.Params))
		for k, v := range c.Params {
			cc.EndpointParams[k] = []string{v}
		}
	}
	return &ClientCredentials{cfg: cc, header: c.Header}, nil
}

func (a *ClientCredentials) Authenticate(ctx context.Context, req *http.Request) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.token.Valid() {
		tok, err := a.cfg.Token(ctx)
		if err != nil {
			return fmt.Errorf("oauth2 token: %w", err)
		}
		a.token = tok
	}
	header := a.header
	if header == "" {
		header = "Authorization"
	}
	req.Headers[header] = a.token.Type() + " " + a.token.AccessToken
	return nil
}

// JWTAuth signs a fresh HS256 token for every request.
type JWTAuth struct {
	cfg JWTConfig
	now func() time.Time
}

func NewJWTAuth(c JWTConfig) (*JWTAuth, error) {
	if c.Secret == "" {
		return nil, errors.New("secret is required")
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	return &JWTAuth{cfg: c, now: time.Now}, nil
}

// Issue returns a signed token.
func (a *JWTAuth) Issue() (string, error) {
	now := a.now()
	claims := jwt.MapClaims{}
	for k, v := range a.cfg.Claims {
		claims[k] = v
	}
	if a.cfg.Subject != "" {
		claims["sub"] = a.cfg.Subject
	}
	if a.cfg.Issuer != "" {
		claims["iss"] = a.cfg.Issuer
	}
	if len(a.cfg.Audience) > 0 {
		claims["aud"] = a.cfg.Audience
	}
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(a.cfg.TTL).Unix()

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.Secret))
}

func (a *JWTAuth) Authenticate(_ context.Context, req *http.Request) error {
	tok, err := a.Issue()
	if err != nil {
		return fmt.Errorf("signing jwt: %w", err)
	}
	header := a.cfg.Header
	if header == "" {
		header = "Authorization"
	}
	req.Headers[header] = "Bearer " + tok
	return nil
}
