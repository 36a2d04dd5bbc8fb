package medicover

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mediscout/internal/domain/appointment"
	"mediscout/internal/domain/auth"
)

const (
	slotsPath   = "/appointments/api/search-appointments/slots"
	filtersPath = "/appointments/api/search-appointments/filters"

	searchPageSize = 5000
	maxBodyBytes   = 16 << 20
	maxLoggedBody  = 512
)

// ClientConfig locates the appointment API.
type ClientConfig struct {
	APIURL    string
	UserAgent string
	Timeout   time.Duration
	// MaxReauth caps re-authentications per call after a 401.
	MaxReauth int
	Transport http.RoundTripper
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithCredential seeds the client with an already obtained credential.
func WithCredential(cred *auth.Credential) ClientOption {
	return func(c *Client) { c.credential = cred }
}

// WithClock replaces time.Now, used for credential expiry checks.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// Client calls the appointment search API with a bearer credential and
// re-authenticates when the API rejects it.
type Client struct {
	cfg           ClientConfig
	baseURL       string
	transport     http.RoundTripper
	authenticator auth.Authenticator
	identity      auth.Identity
	credential    *auth.Credential
	logger        *logrus.Entry
	now           func() time.Time
}

func NewClient(cfg ClientConfig, authenticator auth.Authenticator, identity auth.Identity, logger *logrus.Entry, opts ...ClientOption) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxReauth < 0 {
		cfg.MaxReauth = 0
	}
	c := &Client{
		cfg:           cfg,
		baseURL:       strings.TrimRight(cfg.APIURL, "/"),
		transport:     newUserAgentTransport(cfg.Transport, cfg.UserAgent),
		authenticator: authenticator,
		identity:      identity,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login obtains a credential now instead of on the first call.
func (c *Client) Login(ctx context.Context) error {
	cred, err := c.authenticator.Authenticate(ctx, c.identity)
	if err != nil {
		return err
	}
	c.credential = cred
	return nil
}

// Search returns the free slots matching criteria. A non-200, non-401 answer
// yields an empty result and no error.
func (c *Client) Search(ctx context.Context, criteria appointment.SearchCriteria) ([]appointment.Appointment, error) {
	var resp slotsResponse
	ok, err := c.getJSON(ctx, slotsPath, searchParams(criteria), &resp)
	if err != nil || !ok {
		return nil, err
	}

	appointments := make([]appointment.Appointment, 0, len(resp.Items))
	for _, item := range resp.Items {
		a, err := item.toDomain()
		if err != nil {
			c.logger.WithError(err).WithField("clinic_id", item.Clinic.ID).Warn("Skipping slot with unreadable date")
			continue
		}
		appointments = append(appointments, a)
	}
	return appointments, nil
}

// ListFilters returns regions, specialties, doctors and clinics. regionID and
// specialtyID narrow the doctor list; zero means unset.
func (c *Client) ListFilters(ctx context.Context, regionID, specialtyID int64) (appointment.Filters, error) {
	params := url.Values{"SlotSearchType": {"0"}}
	if regionID != 0 {
		params.Set("RegionIds", strconv.FormatInt(regionID, 10))
	}
	if specialtyID != 0 {
		params.Set("SpecialtyIds", strconv.FormatInt(specialtyID, 10))
	}

	var resp filtersResponse
	ok, err := c.getJSON(ctx, filtersPath, params, &resp)
	if err != nil || !ok {
		return appointment.Filters{}, err
	}
	return resp.toDomain(), nil
}

func searchParams(criteria appointment.SearchCriteria) url.Values {
	params := url.Values{
		"RegionIds":      {strconv.FormatInt(criteria.RegionID, 10)},
		"Page":           {"1"},
		"PageSize":       {strconv.Itoa(searchPageSize)},
		"StartTime":      {criteria.StartDate.Format(appointment.WatchDateLayout)},
		"SlotSearchType": {"0"},
		"VisitType":      {"Center"},
	}
	for _, id := range criteria.SpecialtyIDs {
		params.Add("SpecialtyIds", strconv.FormatInt(id, 10))
	}
	if criteria.ClinicID != 0 {
		params.Set("ClinicIds", strconv.FormatInt(criteria.ClinicID, 10))
	}
	if criteria.DoctorID != 0 {
		params.Set("DoctorIds", strconv.FormatInt(criteria.DoctorID, 10))
	}
	return params
}

// getJSON issues an authenticated GET and decodes a 200 body into out. It
// reports false with a nil error when the API answered with a status that
// degrades to "no results".
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) (bool, error) {
	log := c.logger.WithField("path", path)

	for attempt := 0; ; attempt++ {
		cred, err := c.currentCredential(ctx)
		if err != nil {
			return false, err
		}

		status, body, err := c.get(ctx, cred, path, params)
		if err != nil {
			return false, err
		}

		switch status {
		case http.StatusOK:
			if err := json.Unmarshal(body, out); err != nil {
				return false, fmt.Errorf("decode %s response: %w", path, err)
			}
			return true, nil
		case http.StatusUnauthorized:
			c.credential = nil
			if attempt >= c.cfg.MaxReauth {
				return false, fmt.Errorf("%s: %w", path, ErrCredentialExpired)
			}
			log.WithField("attempt", attempt+1).Warn("Response 401. Re-authenticating")
		default:
			apiErr := &TransientAPIError{StatusCode: status, Body: truncate(string(body), maxLoggedBody)}
			log.WithError(apiErr).Error("API request failed, treating as no results")
			return false, nil
		}
	}
}

// currentCredential returns the held credential, authenticating when there is
// none or it is known to have expired.
func (c *Client) currentCredential(ctx context.Context) (*auth.Credential, error) {
	if c.credential != nil && !c.credential.Expired(c.now()) {
		return c.credential, nil
	}
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	return c.credential, nil
}

// get performs one request with cred and returns the status and body.
func (c *Client) get(ctx context.Context, cred *auth.Credential, path string, params url.Values) (int, []byte, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	httpClient := &http.Client{Jar: cred.Jar, Timeout: c.cfg.Timeout, Transport: c.transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return resp.StatusCode, body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
