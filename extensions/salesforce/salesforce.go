// Package salesforce provides a simple way of authenticating with
// Salesforce.com Bayeux-powered services.
//
// An example usage looks like:
//
//	session, err := bayeux.NewSession(ctx, endpoint, bayeux.WithHTTPTransport(&salesforce.StaticTokenAuthenticator{Token: myToken, Transport: http.DefaultTransport}))
package salesforce

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	bayeux "github.com/WoodyZantzinger/python-bayeux"
)

// StaticTokenAuthenticator attaches a Salesforce access token to every
// request bound for a salesforce.com host, refreshing the cookie jar from
// each response along the way.
//
// A Session drives its Connector, Subscriber, Unsubscriber, and Publisher
// workers concurrently over the same http.Client, so the same
// StaticTokenAuthenticator is shared across goroutines; the cookie jar it
// keeps is guarded accordingly.
type StaticTokenAuthenticator struct {
	// Token is obtained out of band, e.g. via the Salesforce CLI or the
	// OAuth access-token flow described at
	// https://developer.salesforce.com/docs/atlas.en-us.api_iot.meta/api_iot/qs_auth_access_token.htm
	Token string
	// Transport is the underlying http.RoundTripper to delegate to.
	Transport http.RoundTripper
	// Logger receives a Debug entry for every authenticated request and a
	// Warn entry whenever a request is rejected for lacking a token. Nil
	// is a valid, silent default.
	Logger bayeux.Logger

	mu      sync.Mutex
	cookies []*http.Cookie
}

// RoundTrip implements http.RoundTripper.
func (t *StaticTokenAuthenticator) RoundTrip(request *http.Request) (*http.Response, error) {
	if !strings.HasSuffix(request.URL.Hostname(), "salesforce.com") {
		return t.Transport.RoundTrip(request)
	}
	if t.Token == "" {
		t.logger().Warn("rejecting salesforce.com request: no token configured")
		return nil, errors.New("no Token provided to authenticator transport")
	}

	newRequest := deepCopyRequestWithHeaders(request)
	newRequest.Header.Set("Authorization", "Bearer "+t.Token)

	t.mu.Lock()
	cookies := t.cookies
	t.mu.Unlock()
	for _, cookie := range cookies {
		newRequest.AddCookie(cookie)
	}

	t.logger().Debug("attached salesforce bearer token")
	resp, err := t.Transport.RoundTrip(newRequest)
	if err != nil {
		return resp, err
	}

	t.mu.Lock()
	t.cookies = resp.Cookies()
	t.mu.Unlock()
	return resp, nil
}

func (t *StaticTokenAuthenticator) logger() bayeux.Logger {
	if t.Logger == nil {
		return bayeux.NopLogger()
	}
	return t.Logger
}

func deepCopyRequestWithHeaders(request *http.Request) *http.Request {
	newRequest := new(http.Request)
	*newRequest = *request

	newRequest.Header = make(http.Header, len(request.Header))
	for header, values := range request.Header {
		newRequest.Header[header] = append([]string(nil), values...)
	}
	return newRequest
}
