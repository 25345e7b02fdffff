package sitekeeper

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/providers/http/webroot"
	"github.com/go-acme/lego/v4/registration"
)

// Issuer obtains certificate material for a domain via ACME HTTP-01
// validation against the site's live document root. Implementations
// return material without installing it; installation into [CertStore]
// is the caller's job, keeping the slow, retryable network flow
// separate from the fast local write.
type Issuer interface {
	Issue(ctx context.Context, domain, webrootPath string) (*CertMaterial, error)
	Renew(ctx context.Context, domain, webrootPath string) (*CertMaterial, error)
}

// ACMEIssuer issues certificates through an ACME CA (Let's Encrypt by
// default) using the webroot HTTP-01 solver: the challenge token is
// written under <webroot>/.well-known/acme-challenge/ and fetched by
// the CA over plain HTTP, so the domain's port-80 vhost must already
// be enabled and reachable. That precondition is enforced by the
// caller, not here.
//
// Issuance is retried up to the configured attempt budget with a fixed
// delay between attempts; DNS propagation and challenge-path races are
// transient. After the budget is exhausted an [*IssuanceError] is
// returned and nothing has been written anywhere.
type ACMEIssuer struct {
	cfg    ACMEConfig
	logger *slog.Logger

	newClient  clientFactory
	accountKey func() (crypto.PrivateKey, error)
}

// NewACMEIssuer validates cfg and returns an ACMEIssuer. Email and
// AcceptTOS are required; missing values are caught here rather than
// at first issuance.
func NewACMEIssuer(cfg ACMEConfig) (*ACMEIssuer, error) {
	if cfg.Email == "" {
		return nil, errors.New("acme: email is required")
	}
	if !cfg.AcceptTOS {
		return nil, errors.New("acme: must accept Terms of Service (set accept_tos: true)")
	}
	if cfg.CA == "" {
		cfg.CA = lego.LEDirectoryProduction
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 10 * time.Second
	}

	return &ACMEIssuer{
		cfg:       cfg,
		logger:    slog.Default(),
		newClient: defaultClientFactory,
		accountKey: func() (crypto.PrivateKey, error) {
			return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		},
	}, nil
}

// SetLogger replaces the default logger.
func (a *ACMEIssuer) SetLogger(logger *slog.Logger) {
	a.logger = logger
}

// Issue obtains a fresh certificate for domain, validating over HTTP-01
// against webrootPath. Blocks for up to Attempts x Backoff on a
// misbehaving CA or unpropagated DNS.
func (a *ACMEIssuer) Issue(ctx context.Context, domain, webrootPath string) (*CertMaterial, error) {
	a.logger.Info("obtaining certificate", "domain", domain, "webroot", webrootPath, "ca", a.cfg.CA)
	return a.obtain(ctx, domain, webrootPath)
}

// Renew re-issues the certificate for domain. ACME renewal is a fresh
// obtain; the CA has no renew verb.
func (a *ACMEIssuer) Renew(ctx context.Context, domain, webrootPath string) (*CertMaterial, error) {
	a.logger.Info("renewing certificate", "domain", domain, "webroot", webrootPath)
	return a.obtain(ctx, domain, webrootPath)
}

func (a *ACMEIssuer) obtain(ctx context.Context, domain, webrootPath string) (*CertMaterial, error) {
	key, err := a.accountKey()
	if err != nil {
		return nil, fmt.Errorf("acme: generate account key: %w", err)
	}

	user := &acmeUser{email: a.cfg.Email, key: key}

	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = a.cfg.CA
	legoCfg.Certificate.KeyType = a.parseKeyType()

	client, err := a.newClient(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("acme: create client: %w", err)
	}

	provider, err := webroot.NewHTTPProvider(webrootPath)
	if err != nil {
		return nil, fmt.Errorf("acme: webroot provider: %w", err)
	}
	if err := client.SetHTTP01Provider(provider); err != nil {
		return nil, fmt.Errorf("acme: set HTTP-01 provider: %w", err)
	}

	reg, err := client.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, fmt.Errorf("acme: register account: %w", err)
	}
	user.registration = reg

	request := certificate.ObtainRequest{
		Domains: []string{domain},
		Bundle:  true,
	}

	var res *certificate.Resource
	attempt := 0
	operation := func() error {
		attempt++
		r, err := client.Obtain(request)
		if err != nil {
			a.logger.Warn("issuance attempt failed", "domain", domain, "attempt", attempt, "error", err)
			return err
		}
		res = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(a.cfg.Backoff), uint64(a.cfg.Attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, &IssuanceError{Domain: domain, Attempts: attempt, Err: err}
	}

	if len(res.PrivateKey) == 0 || len(res.Certificate) == 0 {
		return nil, &IssuanceError{Domain: domain, Attempts: attempt, Err: errors.New("empty material from CA")}
	}

	a.logger.Info("certificate obtained", "domain", domain, "attempts", attempt)
	return &CertMaterial{
		Key:       res.PrivateKey,
		Fullchain: res.Certificate,
	}, nil
}

func (a *ACMEIssuer) parseKeyType() certcrypto.KeyType {
	switch a.cfg.KeyType {
	case "ec384":
		return certcrypto.EC384
	case "rsa2048":
		return certcrypto.RSA2048
	case "rsa4096":
		return certcrypto.RSA4096
	default:
		return certcrypto.EC256
	}
}

// acmeClient is the slice of the lego client this package uses. Tests
// substitute it to exercise the retry flow without a CA.
type acmeClient interface {
	Register(options registration.RegisterOptions) (*registration.Resource, error)
	SetHTTP01Provider(provider challenge.Provider) error
	Obtain(request certificate.ObtainRequest) (*certificate.Resource, error)
}

type clientFactory func(*lego.Config) (acmeClient, error)

func defaultClientFactory(cfg *lego.Config) (acmeClient, error) {
	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &legoClientAdapter{client: client}, nil
}

type legoClientAdapter struct {
	client *lego.Client
}

func (l *legoClientAdapter) Register(options registration.RegisterOptions) (*registration.Resource, error) {
	return l.client.Registration.Register(options)
}

func (l *legoClientAdapter) SetHTTP01Provider(provider challenge.Provider) error {
	return l.client.Challenge.SetHTTP01Provider(provider)
}

func (l *legoClientAdapter) Obtain(request certificate.ObtainRequest) (*certificate.Resource, error) {
	return l.client.Certificate.Obtain(request)
}

// acmeUser implements registration.User for lego.
type acmeUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }
