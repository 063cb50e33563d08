// Package weather fetches current conditions from an OpenWeatherMap
// compatible API.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"kisan-backend/internal/domain"
)

// ErrNotConfigured is returned when no API key is set
var ErrNotConfigured = errors.New("weather provider not configured")

// Query selects a location by coordinates or by place name
type Query struct {
	Lat   float64
	Lon   float64
	Place string
}

func (q Query) values() (url.Values, error) {
	v := url.Values{}
	switch {
	case q.Place != "":
		v.Set("q", q.Place)
	case q.Lat != 0 || q.Lon != 0:
		if q.Lat < -90 || q.Lat > 90 || q.Lon < -180 || q.Lon > 180 {
			return nil, &domain.ValidationError{Fields: map[string]string{"lat": "coordinates out of range"}}
		}
		v.Set("lat", strconv.FormatFloat(q.Lat, 'f', 4, 64))
		v.Set("lon", strconv.FormatFloat(q.Lon, 'f', 4, 64))
	default:
		return nil, &domain.ValidationError{Fields: map[string]string{"location": "lat/lon or place is required"}}
	}
	return v, nil
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	maxRetries uint64
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		maxRetries: 2,
	}
}

// owmResponse is the subset of /data/2.5/weather we read
type owmResponse struct {
	Name  string `json:"name"`
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"` // m/s with units=metric
	} `json:"wind"`
	Rain struct {
		OneHour   float64 `json:"1h"`
		ThreeHour float64 `json:"3h"`
	} `json:"rain"`
	Dt int64 `json:"dt"`
}

func (r owmResponse) reading() domain.WeatherReading {
	out := domain.WeatherReading{
		Location: r.Name,
		Lat:      r.Coord.Lat,
		Lon:      r.Coord.Lon,
		TempC:    r.Main.Temp,
		Humidity: r.Main.Humidity,
		WindKmh:  round1(r.Wind.Speed * 3.6),
		RainMM:   r.Rain.OneHour,
	}
	if out.RainMM == 0 {
		out.RainMM = r.Rain.ThreeHour
	}
	if len(r.Weather) > 0 {
		out.Conditions = r.Weather[0].Description
		if out.Conditions == "" {
			out.Conditions = r.Weather[0].Main
		}
	}
	if r.Dt > 0 {
		out.ObservedAt = time.Unix(r.Dt, 0).UTC()
	}
	return out
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

// StatusError is a non-200 reply from the provider
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("weather provider returned %d: %s", e.Code, e.Body)
}

// Current returns conditions for q. Server errors and network failures are
// retried with exponential backoff; 4xx replies are not.
func (c *Client) Current(ctx context.Context, q Query) (domain.WeatherReading, error) {
	if c.apiKey == "" {
		return domain.WeatherReading{}, ErrNotConfigured
	}
	params, err := q.values()
	if err != nil {
		return domain.WeatherReading{}, err
	}
	params.Set("units", "metric")
	params.Set("appid", c.apiKey)
	endpoint := c.baseURL + "/data/2.5/weather?" + params.Encode()

	var reading domain.WeatherReading
	op := func() error {
		r, err := c.fetch(ctx, endpoint)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.Code < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		reading = r
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	err = backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		c.logger.Warn("weather request failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		return domain.WeatherReading{}, err
	}

	if reading.ObservedAt.IsZero() {
		reading.ObservedAt = time.Now().UTC()
	}
	if reading.Location == "" {
		reading.Location = q.Place
	}
	return reading, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) (domain.WeatherReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.WeatherReading{}, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WeatherReading{}, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.WeatherReading{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload owmResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.WeatherReading{}, backoff.Permanent(fmt.Errorf("decode weather response: %w", err))
	}
	return payload.reading(), nil
}
