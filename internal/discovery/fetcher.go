package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/easypub/pubd/internal/domain"
)

// DefaultRequestTimeout bounds a single invitation request.
const DefaultRequestTimeout = 10 * time.Second

// invitedResponse is the body served by /invited/json.
type invitedResponse struct {
	Invitation *string `json:"invitation"`
}

// RestyFetcher implements domain.InvitationFetcher over resty.
type RestyFetcher struct {
	client *resty.Client
}

// NewRestyFetcher creates a fetcher whose requests give up after timeout.
// Retries are disabled: a later announcement of the same pub is the retry.
func NewRestyFetcher(timeout time.Duration) *RestyFetcher {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &RestyFetcher{client: client}
}

// FetchInvitation GETs url and returns its invitation field. Transport
// errors and non-2xx statuses are errors; a body that is not JSON, or has
// no usable invitation field, yields an empty invitation.
func (f *RestyFetcher) FetchInvitation(ctx context.Context, url string) (domain.Invitation, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrFetchInvitation, err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("%w: %s returned %s", domain.ErrFetchInvitation, url, resp.Status())
	}

	var body invitedResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", nil
	}
	if body.Invitation == nil {
		return "", nil
	}
	return domain.Invitation(*body.Invitation), nil
}
