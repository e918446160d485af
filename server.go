package main

import (
	"crypto/tls"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// certReloader serves the certificate loaded last, so certificates can be
// rotated without a restart.
type certReloader struct {
	mu       sync.RWMutex
	cert     *tls.Certificate
	certFile string
	keyFile  string
}

func newCertReloader(certFile, keyFile string) (*certReloader, error) {
	c := &certReloader{certFile: certFile, keyFile: keyFile}
	if err := c.reload(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *certReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(c.certFile, c.keyFile)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cert = &cert
	c.mu.Unlock()

	return nil
}

// watch reloads on every signal received on hup.
func (c *certReloader) watch(hup <-chan os.Signal) {
	for range hup {
		logger.Infof("reloading TLS certificate %s and key %s", c.certFile, c.keyFile)

		if err := c.reload(); err != nil {
			logger.Errorf("keeping the old TLS certificate, loading the new one failed: %s", err)
		}
	}
}

func (c *certReloader) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.cert, nil
}

// newHTTPServer builds the listener for homeserver pushes. TLS is enabled
// when both tlscert and tlskey are set.
func newHTTPServer(v *viper.Viper, handler http.Handler, hup <-chan os.Signal) (*http.Server, error) {
	srv := &http.Server{
		Addr:              v.GetString("bind"),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	certFile, keyFile := v.GetString("tlscert"), v.GetString("tlskey")
	if certFile == "" || keyFile == "" {
		return srv, nil
	}

	reloader, err := newCertReloader(certFile, keyFile)
	if err != nil {
		return nil, err
	}

	go reloader.watch(hup)

	srv.TLSConfig = &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: reloader.getCertificate,
	}

	return srv, nil
}
