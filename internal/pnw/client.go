// Package pnw is a client for the Politics & War GraphQL API. Queries are
// sent as GET requests with the API key and the query string as URL
// parameters, which is the scheme the API accepts for key-scoped reads.
package pnw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const DefaultAPIURL = "https://api.politicsandwar.com/graphql"

// ErrKeyRejected is returned when the API reports the key invalid or
// resolves it to no nation.
var ErrKeyRejected = errors.New("pnw: api key rejected")

// Nation is the directory's view of one nation.
type Nation struct {
	ID             int
	NationName     string
	LeaderName     string
	AllianceID     *int
	AllianceName   *string
	Score          *float64
	Cities         *int
	Color          *string
	Continent      *string
	WarPolicy      *string
	DomesticPolicy *string
	LastActive     *time.Time
}

// HTTPClient lets tests substitute the transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client queries the directory. The zero value is not usable; construct
// with NewClient.
type Client struct {
	apiURL string
	http   HTTPClient
}

func NewClient(apiURL string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{apiURL: apiURL, http: http.DefaultClient}
}

// NewClientWithHTTP constructs a Client with a custom transport, used in tests.
func NewClientWithHTTP(apiURL string, httpClient HTTPClient) *Client {
	c := NewClient(apiURL)
	c.http = httpClient
	return c
}

const nationFields = `id nation_name leader_name alliance_id alliance { id name } last_active score num_cities color continent war_policy domestic_policy`

// NationByAPIKey resolves an API key to the nation that owns it.
func (c *Client) NationByAPIKey(ctx context.Context, apiKey string) (Nation, error) {
	query := fmt.Sprintf(`query { nation { %s } }`, nationFields)
	var body struct {
		Data struct {
			Nation *rawNation `json:"nation"`
		} `json:"data"`
		Errors []graphQLError `json:"errors"`
	}
	if err := c.do(ctx, apiKey, query, &body); err != nil {
		return Nation{}, err
	}
	if len(body.Errors) > 0 {
		return Nation{}, fmt.Errorf("%w: %s", ErrKeyRejected, body.Errors[0].Message)
	}
	if body.Data.Nation == nil {
		return Nation{}, ErrKeyRejected
	}
	return body.Data.Nation.toNation()
}

// NationByID fetches a nation by its id. The key still authenticates the call.
func (c *Client) NationByID(ctx context.Context, apiKey string, nationID int) (Nation, error) {
	query := fmt.Sprintf(`query { nations(id: %d) { data { %s } } }`, nationID, nationFields)
	var body struct {
		Data struct {
			Nations struct {
				Data []rawNation `json:"data"`
			} `json:"nations"`
		} `json:"data"`
		Errors []graphQLError `json:"errors"`
	}
	if err := c.do(ctx, apiKey, query, &body); err != nil {
		return Nation{}, err
	}
	if len(body.Errors) > 0 {
		return Nation{}, fmt.Errorf("%w: %s", ErrKeyRejected, body.Errors[0].Message)
	}
	if len(body.Data.Nations.Data) == 0 {
		return Nation{}, ErrKeyRejected
	}
	return body.Data.Nations.Data[0].toNation()
}

func (c *Client) do(ctx context.Context, apiKey, query string, out any) error {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("api_key", apiKey)
	q.Set("query", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pnw request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrKeyRejected
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pnw api returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type graphQLError struct {
	Message string `json:"message"`
}

// rawNation mirrors the wire shape; ids arrive as strings.
type rawNation struct {
	ID         string `json:"id"`
	NationName string `json:"nation_name"`
	LeaderName string `json:"leader_name"`
	AllianceID string `json:"alliance_id"`
	Alliance   *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"alliance"`
	LastActive     string   `json:"last_active"`
	Score          *float64 `json:"score"`
	NumCities      *int     `json:"num_cities"`
	Color          *string  `json:"color"`
	Continent      *string  `json:"continent"`
	WarPolicy      *string  `json:"war_policy"`
	DomesticPolicy *string  `json:"domestic_policy"`
}

func (r rawNation) toNation() (Nation, error) {
	id, err := strconv.Atoi(r.ID)
	if err != nil {
		return Nation{}, fmt.Errorf("pnw: bad nation id %q", r.ID)
	}
	n := Nation{
		ID:             id,
		NationName:     r.NationName,
		LeaderName:     r.LeaderName,
		Score:          r.Score,
		Cities:         r.NumCities,
		Color:          r.Color,
		Continent:      r.Continent,
		WarPolicy:      r.WarPolicy,
		DomesticPolicy: r.DomesticPolicy,
	}
	// "0" means no alliance.
	if allianceID, err := strconv.Atoi(r.AllianceID); err == nil && allianceID != 0 {
		n.AllianceID = &allianceID
	}
	if r.Alliance != nil && r.Alliance.Name != "" {
		name := r.Alliance.Name
		n.AllianceName = &name
	}
	if t, ok := parseLastActive(r.LastActive); ok {
		n.LastActive = &t
	}
	return n, nil
}

func parseLastActive(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
