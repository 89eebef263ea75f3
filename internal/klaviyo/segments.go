package klaviyo

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

// Email marketing consent states.
const (
	ConsentSubscribed   = "SUBSCRIBED"
	ConsentUnsubscribed = "UNSUBSCRIBED"
)

// Segment is a named, dynamically maintained group of profiles.
type Segment struct {
	ID   string
	Name string
}

// Profile carries the email-marketing consent of one profile.
// ConsentTimestamp is nil when the API omits it or it cannot be parsed.
type Profile struct {
	ID               string
	Consent          string
	ConsentTimestamp *time.Time
}

type profileAttributes struct {
	Subscriptions struct {
		Email struct {
			Marketing struct {
				Consent          string `json:"consent"`
				ConsentTimestamp string `json:"consent_timestamp"`
			} `json:"marketing"`
		} `json:"email"`
	} `json:"subscriptions"`
}

// ListSegments returns every segment of the account.
func (c *Client) ListSegments(ctx context.Context) ([]Segment, error) {
	resources, err := c.Paginate(ctx, c.url("/segments/?fields[segment]=name"))
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	segments := make([]Segment, 0, len(resources))
	for _, r := range resources {
		var attrs struct {
			Name string `json:"name"`
		}
		if err := r.decodeAttributes(&attrs); err != nil {
			return nil, fmt.Errorf("list segments: decode segment %s: %w", r.ID, err)
		}
		segments = append(segments, Segment{ID: r.ID, Name: attrs.Name})
	}
	return segments, nil
}

// SegmentProfileCount returns the segment's reported profile_count.
func (c *Client) SegmentProfileCount(ctx context.Context, segmentID string) (int64, error) {
	reqURL := c.url(fmt.Sprintf(
		"/segments/%s/?additional-fields[segment]=profile_count&fields[segment]=name,created,updated",
		url.PathEscape(segmentID),
	))
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return 0, fmt.Errorf("get segment %s: %w", segmentID, err)
	}

	var resp struct {
		Data struct {
			Attributes struct {
				ProfileCount *int64 `json:"profile_count"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("get segment %s: decode: %w", segmentID, err)
	}
	if resp.Data.Attributes.ProfileCount == nil {
		return 0, fmt.Errorf("get segment %s: response has no profile_count", segmentID)
	}
	return *resp.Data.Attributes.ProfileCount, nil
}

// SegmentProfiles returns every member profile of a segment.
func (c *Client) SegmentProfiles(ctx context.Context, segmentID string) ([]Profile, error) {
	reqURL := c.url(fmt.Sprintf(
		"/segments/%s/profiles/?additional-fields[profile]=subscriptions&fields[profile]=created,updated,email&page[size]=100",
		url.PathEscape(segmentID),
	))
	resources, err := c.Paginate(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("list segment %s profiles: %w", segmentID, err)
	}
	return decodeProfiles(resources)
}

// ListProfiles returns every profile of the account.
func (c *Client) ListProfiles(ctx context.Context) ([]Profile, error) {
	resources, err := c.Paginate(ctx, c.url("/profiles/?additional-fields[profile]=subscriptions&fields[profile]=title&page[size]=100"))
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return decodeProfiles(resources)
}

func decodeProfiles(resources []Resource) ([]Profile, error) {
	profiles := make([]Profile, 0, len(resources))
	for _, r := range resources {
		var attrs profileAttributes
		if err := r.decodeAttributes(&attrs); err != nil {
			return nil, fmt.Errorf("decode profile %s: %w", r.ID, err)
		}
		marketing := attrs.Subscriptions.Email.Marketing
		profiles = append(profiles, Profile{
			ID:               r.ID,
			Consent:          marketing.Consent,
			ConsentTimestamp: parseTimestamp(marketing.ConsentTimestamp),
		})
	}
	return profiles, nil
}

func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
