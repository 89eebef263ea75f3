package klaviyo

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// Resource is one JSON:API record from a list endpoint.
type Resource struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Attributes json.RawMessage `json:"attributes"`
}

type page struct {
	Data  []Resource `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

// Paginate fetches startURL and follows links.next until the API stops advertising
// one. Records are returned in page order. Any failure discards what was fetched.
func (c *Client) Paginate(ctx context.Context, startURL string) ([]Resource, error) {
	var (
		out   []Resource
		pages int
	)
	for next := startURL; next != ""; {
		body, err := c.get(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("paginate page %d: %w", pages+1, err)
		}

		var p page
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("paginate page %d: decode %s: %w", pages+1, next, err)
		}

		out = append(out, p.Data...)
		pages++
		next = p.Links.Next
	}
	return out, nil
}

// decodeAttributes unmarshals the attributes object into v; absent attributes leave v untouched.
func (r Resource) decodeAttributes(v interface{}) error {
	if len(r.Attributes) == 0 || string(r.Attributes) == "null" {
		return nil
	}
	return json.Unmarshal(r.Attributes, v)
}
