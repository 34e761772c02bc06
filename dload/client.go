// Package dload implements the concurrent transfer engine: a dispatcher
// feeding a bounded pool of joggers, with per-request trackers that handle
// mirrors, retries, conditional fetches, and on-the-fly decompression.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package dload

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/conf"
	"github.com/pkg/errors"
)

// newClient builds the HTTP client from the remote configuration: TLS
// verification mode (<system>, <false>, or an explicit CA bundle), scheme
// proxies, connect timeout. Stall detection is enforced by the tracker on
// top of body reads, not by the client: a transfer aborts when no bytes
// arrive for low_speed_time seconds; low_speed_limit is not consulted.
func newClient(rc *conf.Remote) (*http.Client, error) {
	tlsConfig := &tls.Config{}
	switch rc.SSLVerify {
	case conf.SSLVerifySystem, "":
	case conf.SSLVerifyFalse:
		tlsConfig.InsecureSkipVerify = true
	default:
		pem, err := os.ReadFile(rc.SSLVerify)
		if err != nil {
			return nil, cmn.NewWrapped(cmn.KindConfiguration, err,
				"cannot read CA bundle %s", rc.SSLVerify)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, cmn.New(cmn.KindConfiguration,
				"CA bundle %s contains no certificates", rc.SSLVerify)
		}
		tlsConfig.RootCAs = pool
	}

	transport := &http.Transport{
		Proxy: proxyFunc(rc.ProxyServers),
		DialContext: (&net.Dialer{
			Timeout: time.Duration(rc.ConnectTimeoutSecs) * time.Second,
		}).DialContext,
		TLSClientConfig:     tlsConfig,
		MaxIdleConnsPerHost: rc.DownloadThreads,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Transport: transport}, nil
}

// proxyFunc implements the scheme-specific selection: an entry for the
// request's scheme wins, then "all"; no entry means direct.
func proxyFunc(servers map[string]string) func(*http.Request) (*url.URL, error) {
	if len(servers) == 0 {
		return nil
	}
	return func(req *http.Request) (*url.URL, error) {
		raw, ok := servers[req.URL.Scheme]
		if !ok {
			raw, ok = servers["all"]
		}
		if !ok || raw == "" {
			return nil, nil
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "proxy for scheme %s", req.URL.Scheme)
		}
		return u, nil
	}
}
