package caldav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-webdav/caldav"
)

const (
	// Apple iCloud CalDAV endpoint
	DefaultiCloudURL = "https://caldav.icloud.com"
)

// Client mirrors events into one CalDAV calendar.
type Client struct {
	baseURL    string
	username   string
	password   string
	calendarID string // collection path; discovered when empty

	mu     sync.Mutex
	client *caldav.Client
}

func NewClient(baseURL, username, password string) *Client {
	if baseURL == "" {
		baseURL = DefaultiCloudURL
	}
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
	}
}

// IsConfigured returns true if the client has credentials
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != ""
}

func (c *Client) SetCalendarID(id string) {
	c.mu.Lock()
	c.calendarID = id
	c.mu.Unlock()
}

func (c *Client) connect() (*caldav.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: c.username,
			password: c.password,
		},
		Timeout: 30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// DiscoverCalendars returns all calendars for the user
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	result := make([]Calendar, 0, len(cals))
	for _, cal := range cals {
		result = append(result, Calendar{
			ID:          cal.Path,
			DisplayName: cal.Name,
			Components:  cal.SupportedComponentSet,
		})
	}
	return result, nil
}

// calendarPath returns the configured collection, or the first one that
// supports events.
func (c *Client) calendarPath(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.calendarID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	cals, err := c.DiscoverCalendars(ctx)
	if err != nil {
		return "", err
	}
	cal, ok := pickEventCalendar(cals)
	if !ok {
		return "", errors.New("no calendar supports events")
	}
	c.SetCalendarID(cal.ID)
	return cal.ID, nil
}

// pickEventCalendar returns the first collection that accepts VEVENTs, so
// task-only (VTODO) collections are skipped.
func pickEventCalendar(cals []Calendar) (Calendar, bool) {
	for _, cal := range cals {
		if cal.SupportsEvents() {
			return cal, true
		}
	}
	return Calendar{}, false
}

func (c *Client) eventPath(ctx context.Context, uid string) (string, error) {
	path, err := c.calendarPath(ctx)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path + uid + ".ics", nil
}

// PutEvent creates or replaces the event with e.UID.
func (c *Client) PutEvent(ctx context.Context, e *Event) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	path, err := c.eventPath(ctx, e.UID)
	if err != nil {
		return err
	}

	if _, err := client.PutCalendarObject(ctx, path, NewCalendar(time.Now(), e)); err != nil {
		return fmt.Errorf("put event %s: %w", e.UID, err)
	}
	return nil
}

func (c *Client) DeleteEvent(ctx context.Context, uid string) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	path, err := c.eventPath(ctx, uid)
	if err != nil {
		return err
	}

	if err := client.RemoveAll(ctx, path); err != nil {
		return fmt.Errorf("delete event %s: %w", uid, err)
	}
	return nil
}
