package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/easypub/pubd/internal/domain"
	"github.com/easypub/pubd/internal/infra/metrics"
)

// InvitationPath is where every pub serves invitations for other pubs.
const InvitationPath = "/invited/json"

// InvitationURL builds the request URL for a discovered host.
func InvitationURL(host string) string {
	return "http://" + host + InvitationPath
}

// InvitationClient performs the two-step exchange with one candidate:
// fetch an invitation over HTTP, then accept it into the trust store.
type InvitationClient struct {
	fetcher  domain.InvitationFetcher
	acceptor domain.InvitationAcceptor
	log      *zap.SugaredLogger
}

// NewInvitationClient creates a client. log may be nil.
func NewInvitationClient(fetcher domain.InvitationFetcher, acceptor domain.InvitationAcceptor, log *zap.SugaredLogger) *InvitationClient {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &InvitationClient{fetcher: fetcher, acceptor: acceptor, log: log}
}

// Request asks host for an invitation and accepts it. Every outcome is
// logged here; the returned error only classifies the result for callers.
// A pub that issues no invitation yields domain.ErrNoInvitation.
func (c *InvitationClient) Request(ctx context.Context, host string) error {
	url := InvitationURL(host)
	c.log.Debugw("asking pub for an invitation", "url", url)

	start := time.Now()
	inv, err := c.fetcher.FetchInvitation(ctx, url)
	metrics.InvitationFetchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		c.log.Warnw("invitation request failed", "host", host, "error", err)
		if !errors.Is(err, domain.ErrFetchInvitation) {
			err = fmt.Errorf("%w: %v", domain.ErrFetchInvitation, err)
		}
		return err
	}

	if inv.Empty() {
		c.log.Infow("pub issued no invitation", "host", host)
		return domain.ErrNoInvitation
	}

	c.log.Debugw("got invitation, accepting locally", "host", host)
	if err := c.accept(ctx, host, inv); err != nil {
		c.log.Warnw("accepting invitation failed", "host", host, "error", err)
		return fmt.Errorf("accept invitation from %s: %w", host, err)
	}

	c.log.Infow("federated with pub", "host", host)
	return nil
}

func (c *InvitationClient) accept(ctx context.Context, host string, inv domain.Invitation) error {
	if ha, ok := c.acceptor.(domain.HostAcceptor); ok {
		return ha.AcceptInvitationFromHost(ctx, host, inv)
	}
	return c.acceptor.AcceptInvitation(ctx, inv)
}
