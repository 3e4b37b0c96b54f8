package authclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RoundTrip implements http.RoundTripper.
//
// A 401 from the login endpoint is returned as is. Any other 401 is retried at
// most once: with the stored access token if another request already replaced
// the one sent, otherwise after a refresh shared by every concurrent caller.
func (c *Coordinator) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if err := bufferBody(req); err != nil {
		return nil, err
	}

	sent := c.Session().AccessToken
	resp, err := c.base.RoundTrip(withBearer(req, sent))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if strings.HasSuffix(req.URL.Path, pathLogin) {
		return resp, nil
	}

	ctx := req.Context()

	stored, _, err := c.storage.Get(ctx, KeyAccessToken)
	if err != nil {
		return resp, nil
	}
	if stored != "" && stored != sent {
		drain(resp)
		return c.replay(req, stored)
	}

	if _, ok, _ := c.storage.Get(ctx, KeyRefreshToken); !ok {
		if err := c.storage.Remove(ctx, KeyAccessToken); err != nil {
			c.log.Warn("authclient.clear.fail", "err", err)
		}
		c.signOut(Session.anonymous)
		return resp, nil
	}

	// The refresh runs detached from this request so an abandoned caller
	// cannot cancel it for everyone else sharing the flight. It also settles
	// the session itself: callers only translate its error.
	flight := c.flight.DoChan("refresh", func() (any, error) {
		return c.renew(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		drain(resp)
		return nil, ctx.Err()
	case res := <-flight:
		drain(resp)
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionExpired, res.Err)
		}
		return c.replay(req, res.Val.(string))
	}
}

func (c *Coordinator) replay(req *http.Request, token string) (*http.Response, error) {
	next := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		next.Body = body
	}
	return c.base.RoundTrip(withBearer(next, token))
}

// renew redeems the stored refresh token and returns the new access token.
// On failure it first looks for a pair stored by another handle that redeemed
// the same token a moment earlier; only if there is none does it expire the
// session. It runs once per flight, so an expiry fires the login hook once.
func (c *Coordinator) renew(ctx context.Context) (string, error) {
	rt, ok, err := c.storage.Get(ctx, KeyRefreshToken)
	if err == nil && !ok {
		err = errNoRefreshToken
	}
	if err != nil {
		c.expire(ctx)
		return "", err
	}

	// Subscribe before redeeming so a rival handle's write cannot slip
	// between the failed call and the wait below.
	watchCtx, stop := context.WithCancel(ctx)
	defer stop()
	changes, subErr := c.storage.Subscribe(watchCtx)
	if subErr != nil {
		c.log.Warn("authclient.refresh.subscribe.fail", "err", subErr)
		changes = nil
	}

	access, err := c.redeem(ctx, rt)
	if err == nil {
		return access, nil
	}
	if access, ok := c.awaitRotation(ctx, rt, changes); ok {
		c.log.Debug("authclient.refresh.adopted")
		return access, nil
	}

	c.log.Info("authclient.refresh.fail", "err", err)
	c.expire(ctx)
	return "", err
}

// redeem exchanges rt for a new pair and persists it.
func (c *Coordinator) redeem(ctx context.Context, rt string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, pathRefresh, map[string]string{"refreshToken": rt})
	if err != nil {
		return "", err
	}
	var pair tokenPair
	if err := do(c.raw, req, &pair); err != nil {
		return "", err
	}
	if err := c.persist(ctx, pair); err != nil {
		return "", err
	}
	c.log.Debug("authclient.refresh.ok")
	return pair.AccessToken, nil
}

// awaitRotation reports the access token of a pair that replaced rt in
// storage, waiting up to rotationGrace for another handle to finish writing
// it. A removed access token means that handle signed out instead.
func (c *Coordinator) awaitRotation(ctx context.Context, rt string, changes <-chan Change) (string, bool) {
	if access, ok := c.adoptRotated(ctx, rt); ok {
		return access, true
	}
	if changes == nil || c.rotationGrace <= 0 {
		return "", false
	}

	timer := time.NewTimer(c.rotationGrace)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return "", false
		case ch, open := <-changes:
			switch {
			case !open:
				return "", false
			case ch.Key == KeyAccessToken && ch.Removed:
				return "", false
			case ch.Key == KeyRefreshToken && !ch.Removed && ch.Value != rt:
				return c.adoptRotated(ctx, rt)
			}
		}
	}
}

func (c *Coordinator) adoptRotated(ctx context.Context, rt string) (string, bool) {
	cur, ok, err := c.storage.Get(ctx, KeyRefreshToken)
	if err != nil || !ok || cur == rt {
		return "", false
	}
	access, ok, err := c.storage.Get(ctx, KeyAccessToken)
	if err != nil || !ok {
		return "", false
	}
	u, exp, valid := decodeAccess(access)
	if !valid || !exp.After(c.now()) {
		return "", false
	}
	c.adopt(access, u)
	return access, true
}

func withBearer(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	if token == "" {
		out.Header.Del("Authorization")
		return out
	}
	out.Header.Set("Authorization", "Bearer "+token)
	return out
}

// bufferBody makes req's body replayable.
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	b, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return err
	}
	req.Body = io.NopCloser(bytes.NewReader(b))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	return nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
}
