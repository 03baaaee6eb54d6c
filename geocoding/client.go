package geocoding

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/mmdatafocus/macantine_backend/config"
)

const requestTimeout = 3 * time.Second

// Request locates one canteen; the INSEE code wins over the postal code.
type Request struct {
	Siret         string
	CityInseeCode string
	PostalCode    string
}

type Result struct {
	Siret         string
	PostalCode    string
	CityInseeCode string
	City          string
	Department    string
}

// Client talks to the api-adresse CSV batch endpoint.
type Client struct {
	url  string
	http *http.Client
}

func NewClient() *Client {
	return NewClientWithURL(config.GeocodingURL())
}

func NewClientWithURL(url string) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: requestTimeout},
	}
}

func requestCSV(requests []Request) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"siret", "citycode", "postcode"})
	for _, r := range requests {
		if r.CityInseeCode != "" {
			_ = w.Write([]string{r.Siret, r.CityInseeCode, ""})
		} else {
			_ = w.Write([]string{r.Siret, "", r.PostalCode})
		}
	}
	w.Flush()
	return buf.Bytes()
}

func (c *Client) body(requests []Request) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("data", "locations.csv")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(requestCSV(requests)); err != nil {
		return nil, "", err
	}
	fields := [][2]string{
		{"postcode", "postcode"},
		{"citycode", "citycode"},
		{"result_columns", "result_postcode"},
		{"result_columns", "result_citycode"},
		{"result_columns", "result_city"},
		{"result_columns", "result_context"},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

// Geocode resolves the commune of each request. Rows the service could not
// place are left out of the result.
func (c *Client) Geocode(ctx context.Context, requests []Request) ([]Result, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	if c.url == "" {
		return nil, errors.New("geocoding url is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	body, contentType, err := c.body(requests)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/csv")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("geocoding api error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return parseResponse(raw)
}

// parseResponse reads "siret,citycode,postcode,result_postcode,result_citycode,result_city,result_context".
func parseResponse(raw []byte) ([]Result, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("geocoding response: %w", err)
	}
	var results []Result
	for _, row := range records {
		if len(row) < 7 || row[0] == "siret" {
			continue
		}
		if row[5] == "" {
			continue
		}
		department := strings.TrimSpace(strings.SplitN(row[6], ",", 2)[0])
		results = append(results, Result{
			Siret:         row[0],
			PostalCode:    row[3],
			CityInseeCode: row[4],
			City:          row[5],
			Department:    department,
		})
	}
	return results, nil
}
