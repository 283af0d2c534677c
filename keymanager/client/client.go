// Package client implements a retrying keymanager client, wrapping a
// keymanager/api.Backend RPC endpoint with bounded exponential backoff,
// since keymanager calls are a blocking host I/O boundary (spec §5).
package client

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	kmapi "github.com/oasislabs/runtime-sdk/go/keymanager/api"

	"github.com/oasislabs/runtime-sdk/go/common/logging"
)

var logger = logging.GetLogger("keymanager/client")

// Client retries calls to a remote keymanager.Backend with exponential
// backoff, for use across a blocking per-call RPC boundary.
type Client struct {
	remote kmapi.Backend

	maxElapsedTime time.Duration
}

// New wraps remote with retry behavior.
func New(remote kmapi.Backend) *Client {
	return &Client{remote: remote, maxElapsedTime: 15 * time.Second}
}

// GetOrCreateKeys implements keymanager/api.Backend, retrying transient
// failures of the underlying RPC call.
func (c *Client) GetOrCreateKeys(ctx context.Context, kid kmapi.KeyPairID) (*kmapi.KeyPair, error) {
	var result *kmapi.KeyPair

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsedTime

	err := backoff.Retry(func() error {
		kp, err := c.remote.GetOrCreateKeys(ctx, kid)
		if err != nil {
			logger.Warn("keymanager call failed, retrying", "err", err)
			return err
		}
		result = kp
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}
