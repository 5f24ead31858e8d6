// Package backend talks to the PostgREST-style fleet backend: the vehicle
// directory, telemetry tables and the notifications table.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ukydev/fleet-simulator/internal/models"
)

var (
	// ErrTransport marks calls that did not complete successfully.
	ErrTransport = errors.New("backend transport failure")
	// ErrDataFormat marks responses that could not be decoded.
	ErrDataFormat = errors.New("backend data format failure")
)

// TokenSource supplies bearer tokens for outbound requests.
type TokenSource interface {
	Token() (string, error)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// APIKey is sent as the apikey header, and as the bearer token when
	// neither AuthToken nor Tokens is set.
	APIKey    string
	AuthToken string
	Tokens    TokenSource
	Timeout   time.Duration
}

// Client is a backend client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	authToken  string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base URL is empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		authToken:  cfg.AuthToken,
		tokens:     cfg.Tokens,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// ListVehicles returns every vehicle in the directory.
func (c *Client) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	var vehicles []models.Vehicle
	if err := c.getJSON(ctx, "vehicles?order=id.asc", &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}

// VehicleByPlate returns nil when no vehicle has the plate.
func (c *Client) VehicleByPlate(ctx context.Context, plate string) (*models.Vehicle, error) {
	var vehicles []models.Vehicle
	if err := c.getJSON(ctx, "vehicles?plate_number=eq."+url.QueryEscape(plate), &vehicles); err != nil {
		return nil, err
	}
	if len(vehicles) == 0 {
		return nil, nil
	}
	return &vehicles[0], nil
}

// ReportDefect sets the defect flag of a vehicle.
func (c *Client) ReportDefect(ctx context.Context, vehicleID int64, hasDefect bool) error {
	body := map[string]bool{"has_defect": hasDefect}
	return c.send(ctx, http.MethodPatch, fmt.Sprintf("vehicles?id=eq.%d", vehicleID), body, nil)
}

// ReportPosition upserts the coordinates row keyed by IMEI.
func (c *Client) ReportPosition(ctx context.Context, coords models.VehicleCoordinates) error {
	headers := map[string]string{"Prefer": "resolution=merge-duplicates"}
	return c.send(ctx, http.MethodPost, "vehicle_coordinates?on_conflict=imei", coords, headers)
}

// ReportStatus updates speed and the stopped flag of the coordinates row.
func (c *Client) ReportStatus(ctx context.Context, status models.VehicleStatus) error {
	body := map[string]interface{}{
		"speed":     status.Speed,
		"isStopped": status.IsStopped,
		"timestamp": status.Timestamp,
	}
	return c.send(ctx, http.MethodPatch, "vehicle_coordinates?imei=eq."+url.QueryEscape(status.IMEI), body, nil)
}

// ReportMileage updates the odometer of a vehicle.
func (c *Client) ReportMileage(ctx context.Context, report models.MileageReport) error {
	body := map[string]float64{"mileage": report.Mileage}
	return c.send(ctx, http.MethodPatch, fmt.Sprintf("vehicles?id=eq.%d", report.VehicleID), body, nil)
}

// Notify inserts an operator notification.
func (c *Client) Notify(ctx context.Context, plate, message string) error {
	return c.send(ctx, http.MethodPost, "notifications", models.Notification{PlateNumber: plate, Message: message, CreatedAt: time.Now().UTC()}, nil)
}

// Ping checks that the backend answers an authenticated request.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "vehicles?select=id&limit=1", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrDataFormat, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}, headers map[string]string) error {
	resp, err := c.do(ctx, method, path, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// do performs an authorized request and maps non-2xx answers to ErrTransport.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	token, err := c.bearer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", ErrTransport, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

func (c *Client) bearer() (string, error) {
	switch {
	case c.authToken != "":
		return c.authToken, nil
	case c.tokens != nil:
		return c.tokens.Token()
	default:
		return c.apiKey, nil
	}
}
