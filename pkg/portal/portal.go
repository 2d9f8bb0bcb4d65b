package portal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/eirsights/eirsights/pkg/common"
	"github.com/eirsights/eirsights/pkg/log"
	"github.com/eirsights/eirsights/pkg/types"
)

const (
	defaultBaseURL = "https://youraccountonline.electricireland.ie"

	// loginDelay paces the login POST after the bootstrap GET so the flow
	// doesn't look scripted to the portal's anti-bot layer.
	loginDelay = 500 * time.Millisecond

	// onEventPath is the navigation endpoint the dashboard's account cards
	// POST to.
	onEventPath = "/Accounts/OnEvent"

	// insightsTrigger selects the "View Insights" transition on OnEvent.
	insightsTrigger = "AccountSelection.ToInsights"

	// usernameField doubles as a login-page marker: if the login POST's
	// response still contains it, authentication did not happen.
	usernameField = "LoginFormData.UserName"
	passwordField = "LoginFormData.Password"

	rvtCookie = "rvt"
)

// Portal drives the Electric Ireland account portal: the multi-step HTML
// login flow and the extraction of the meter identity. A successful Login
// yields a Scraper owning the authenticated session; the Portal itself holds
// no session state.
type Portal struct {
	baseURL string
	creds   types.Credentials
	delay   time.Duration

	// client overrides the per-attempt session when set; tests use this to
	// point the flow at an httptest server. Production always builds a fresh
	// session per attempt so a failed login can't poison the next one.
	client *http.Client
}

// New returns a Portal for the given credentials.
func New(creds types.Credentials) *Portal {
	return &Portal{
		baseURL: defaultBaseURL,
		creds:   creds,
		delay:   loginDelay,
	}
}

// Configured sets up the Portal from command-line flags.
func Configured() *Portal {
	p := &Portal{
		baseURL: defaultBaseURL,
		delay:   loginDelay,
	}

	baseURL := lflag.String("portal-base-url", defaultBaseURL, "Base URL of the Electric Ireland account portal")
	username := lflag.RequiredString("portal-username", "Electric Ireland account email")
	password := lflag.RequiredString("portal-password", "Electric Ireland account password")
	account := lflag.RequiredString("portal-account-number", "Account number to scrape (must be an electricity account)")

	lflag.Do(func() {
		p.baseURL = *baseURL
		p.creds = types.Credentials{
			Username:      *username,
			Password:      *password,
			AccountNumber: *account,
		}
	})

	return p
}

func (p *Portal) newSession() *http.Client {
	if p.client != nil {
		return p.client
	}
	return common.HTTPClient(common.RequestTimeout)
}

// Login runs the full authentication flow and returns a Scraper bound to the
// authenticated session and extracted meter identity. Every failure is
// terminal for the attempt; the caller retries by calling Login again, which
// starts over with a fresh session.
func (p *Portal) Login(ctx context.Context) (*Scraper, error) {
	session := p.newSession()

	source, rvt, err := p.bootstrap(ctx, session)
	if err != nil {
		return nil, err
	}

	dashboard, err := p.login(ctx, session, source, rvt)
	if err != nil {
		return nil, err
	}

	meter, err := p.resolveMeter(ctx, session, dashboard)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).InfoContext(ctx, "portal login succeeded",
		slog.String("partner", meter.Partner),
		slog.String("contract", meter.Contract),
		slog.String("premise", meter.Premise),
	)

	return &Scraper{
		client:  session,
		baseURL: p.baseURL,
		meter:   meter,
	}, nil
}

// bootstrap fetches the login page and extracts the hidden Source value and
// the rvt anti-forgery cookie the server sets alongside it.
func (p *Portal) bootstrap(ctx context.Context, session *http.Client) (source, rvt string, err error) {
	log.Ctx(ctx).DebugContext(ctx, "fetching portal login page")

	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/", nil)
	if err != nil {
		return "", "", err
	}

	resp, err := session.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch portal login page", slog.Any("error", err))
		return "", "", classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: login page status %d", ErrRequest, resp.StatusCode)
	}

	doc, err := parseDoc(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrTokenExtraction, err)
	}

	source, ok := findInputValue(doc, "Source")
	if !ok || source == "" {
		log.Ctx(ctx).ErrorContext(ctx, "login page is missing the Source hidden field, markup may have changed")
		return "", "", fmt.Errorf("%w: no Source field", ErrTokenExtraction)
	}

	for _, c := range session.Jar.Cookies(resp.Request.URL) {
		if c.Name == rvtCookie {
			rvt = c.Value
			break
		}
	}
	if rvt == "" {
		log.Ctx(ctx).ErrorContext(ctx, "portal did not set the rvt cookie")
		return "", "", fmt.Errorf("%w: no %s cookie", ErrTokenExtraction, rvtCookie)
	}

	return source, rvt, nil
}

// login POSTs the credentials along with the extracted tokens and verifies
// we actually left the login page. Returns the dashboard response body.
func (p *Portal) login(ctx context.Context, session *http.Client, source, rvt string) (string, error) {
	// pacing delay; the portal flags instant POSTs as bots
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(p.delay):
	}

	log.Ctx(ctx).DebugContext(ctx, "posting portal login")

	data := url.Values{}
	data.Set(usernameField, p.creds.Username)
	data.Set(passwordField, p.creds.Password)
	data.Set(rvtCookie, rvt)
	data.Set("Source", source)
	// fixed placeholder fields the form always submits
	data.Set("PotText", "")
	data.Set("__EiTokPotText", "")
	data.Set("ReturnUrl", "")
	data.Set("AccountNumber", "")

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/", strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := session.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "portal login request failed", slog.Any("error", err))
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: login status %d", ErrRequest, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport(err)
	}

	page := string(body)
	if strings.Contains(page, usernameField) || strings.Contains(page, "Log in") {
		// still on the login page; dig out the portal's own message if any
		msg := ""
		if doc, perr := parseDoc(strings.NewReader(page)); perr == nil {
			msg = findValidationMessage(doc)
		}
		if msg != "" {
			log.Ctx(ctx).ErrorContext(ctx, "portal rejected login", slog.String("message", msg))
			return "", fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
		}
		log.Ctx(ctx).ErrorContext(ctx, "portal rejected login with no validation message")
		return "", ErrInvalidCredentials
	}

	return page, nil
}

// resolveMeter locates the configured account on the dashboard, navigates to
// its insights page, and extracts the meter identity.
func (p *Portal) resolveMeter(ctx context.Context, session *http.Client, dashboard string) (types.MeterIdentity, error) {
	doc, err := parseDoc(strings.NewReader(dashboard))
	if err != nil {
		return types.MeterIdentity{}, fmt.Errorf("%w: %v", ErrAccountNotFound, err)
	}

	entries := findAccountEntries(doc)
	log.Ctx(ctx).DebugContext(ctx, "found dashboard accounts", slog.Int("count", len(entries)))

	var target *accountEntry
	for i := range entries {
		e := &entries[i]
		if e.number != p.creds.AccountNumber {
			log.Ctx(ctx).DebugContext(ctx, "skipping account", slog.String("accountNumber", e.number))
			continue
		}
		// exactly one marker identifies an unambiguous electricity account
		if e.electricityMarkers != 1 {
			log.Ctx(ctx).InfoContext(ctx, "account matched but is not an electricity account",
				slog.String("accountNumber", e.number),
				slog.Int("markers", e.electricityMarkers),
			)
			continue
		}
		target = e
		break
	}

	if target == nil {
		return types.MeterIdentity{}, fmt.Errorf("%w: %s", ErrAccountNotFound, p.creds.AccountNumber)
	}
	if len(target.eventFields) == 0 {
		log.Ctx(ctx).ErrorContext(ctx, "account card has no OnEvent form, markup may have changed")
		return types.MeterIdentity{}, fmt.Errorf("%w: no navigation form", ErrAccountNotFound)
	}

	log.Ctx(ctx).DebugContext(ctx, "navigating to insights page")

	data := url.Values{}
	data.Set("triggers_event", insightsTrigger)
	for name, value := range target.eventFields {
		data.Set(name, value)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+onEventPath, strings.NewReader(data.Encode()))
	if err != nil {
		return types.MeterIdentity{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := session.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to navigate to insights page", slog.Any("error", err))
		return types.MeterIdentity{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.MeterIdentity{}, fmt.Errorf("%w: insights status %d", ErrRequest, resp.StatusCode)
	}

	insights, err := parseDoc(resp.Body)
	if err != nil {
		return types.MeterIdentity{}, fmt.Errorf("%w: %v", ErrMeterIdentity, err)
	}

	meter, found := findMeterIdentity(insights)
	if !found {
		log.Ctx(ctx).ErrorContext(ctx, "insights page has no modelData container, wrong page or markup drift")
		return types.MeterIdentity{}, fmt.Errorf("%w: no modelData", ErrMeterIdentity)
	}
	if !meter.Valid() {
		log.Ctx(ctx).ErrorContext(ctx, "insights page has incomplete meter identity",
			slog.String("partner", meter.Partner),
			slog.String("contract", meter.Contract),
			slog.String("premise", meter.Premise),
		)
		return types.MeterIdentity{}, fmt.Errorf("%w: incomplete identity", ErrMeterIdentity)
	}

	return meter, nil
}
