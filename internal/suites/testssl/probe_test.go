package testssl

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bl4ck0w1/scorelynx/internal/suites"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

func tlsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		io.WriteString(w, "hello")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func trustedProbe(srv *httptest.Server, dial Dialer) *Probe {
	p := NewProbe(dial, 5*time.Second, nil, quietLogger())
	p.roots = x509.NewCertPool()
	p.roots.AddCert(srv.Certificate())
	return p
}

func TestProbeScan(t *testing.T) {
	srv := tlsServer(t)
	addr := srv.Listener.Addr().String()
	p := trustedProbe(srv, nil)

	doc, err := p.Scan(context.Background(), "127.0.0.1", addr, true)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	res, err := LoadResults([][]byte{doc})
	if err != nil {
		t.Fatal(err)
	}
	got := ParseCommon(res, "web")

	want := map[string]interface{}{
		"web_has_protocol_tls1":       false,
		"web_has_protocol_tls1_1":     false,
		"web_has_protocol_tls1_2":     true,
		"web_has_protocol_tls1_3":     true,
		"web_cert_trusted":            true,
		"web_certificate_not_expired": true,
		"web_valid_san":               true,
		"web_strong_keysize":          true,
		"web_strong_sig_algorithm":    true,
		"web_pfs":                     true,
		"web_ocsp_stapling":           false,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %#v, want %#v", k, got[k], v)
		}
	}

	hsts := DetectHSTS(res, "127.0.0.1", nil)
	if hsts["web_has_hsts_header"] != true || hsts["web_has_hsts_header_sufficient_time"] != true {
		t.Errorf("hsts = %v", hsts)
	}
	if hpkp := DetectHPKP(res); hpkp["web_has_hpkp_header"] != false {
		t.Errorf("hpkp = %v", hpkp)
	}
}

func TestProbeUntrustedCertificate(t *testing.T) {
	srv := tlsServer(t)
	p := NewProbe(nil, 5*time.Second, nil, quietLogger())
	p.roots = x509.NewCertPool()

	doc, err := p.Scan(context.Background(), "127.0.0.1", srv.Listener.Addr().String(), false)
	if err != nil {
		t.Fatal(err)
	}
	res, err := LoadResults([][]byte{doc})
	if err != nil {
		t.Fatal(err)
	}
	got := ParseCommon(res, "web")
	if got["web_cert_trusted"] != false {
		t.Errorf("web_cert_trusted = %v", got["web_cert_trusted"])
	}
	if !strings.HasPrefix(got["web_cert_trusted_reason"].(string), "failed") {
		t.Errorf("reason = %v", got["web_cert_trusted_reason"])
	}
	if _, ok := res.Findings["hsts"]; ok {
		t.Error("headers inspected for a mail scan")
	}
}

func TestProbeWithoutTLS(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p := NewProbe(nil, 2*time.Second, nil, quietLogger())
	if _, err := p.Scan(context.Background(), "127.0.0.1", srv.Listener.Addr().String(), true); err != ErrNoTLS {
		t.Fatalf("err = %v, want ErrNoTLS", err)
	}
}

// smtpServer answers the STARTTLS exchange and then hands the connection to
// a TLS server using the certificate of srv.
func smtpServer(t *testing.T, srv *httptest.Server, offerTLS bool) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	cfg := &tls.Config{Certificates: srv.TLS.Certificates}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				io.WriteString(conn, "220 mx.example.test ESMTP\r\n")
				if _, err := r.ReadString('\n'); err != nil {
					return
				}
				if !offerTLS {
					io.WriteString(conn, "250 mx.example.test\r\n")
					r.ReadString('\n')
					io.WriteString(conn, "502 command not implemented\r\n")
					return
				}
				io.WriteString(conn, "250-mx.example.test\r\n250 STARTTLS\r\n")
				if _, err := r.ReadString('\n'); err != nil {
					return
				}
				io.WriteString(conn, "220 ready to start TLS\r\n")
				tlsConn := tls.Server(conn, cfg)
				if tlsConn.Handshake() == nil {
					tlsConn.Close()
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestStartTLS(t *testing.T) {
	srv := tlsServer(t)

	p := trustedProbe(srv, smtpDialer(2*time.Second, "scanner.test"))
	if !p.Possible(context.Background(), smtpServer(t, srv, true), "127.0.0.1") {
		t.Error("handshake after STARTTLS failed")
	}
	if p.Possible(context.Background(), smtpServer(t, srv, false), "127.0.0.1") {
		t.Error("handshake succeeded without STARTTLS")
	}
}

func TestMXSuiteWithoutMailServer(t *testing.T) {
	s := NewMX(models.TestSSLSuiteConfig{}, nil, quietLogger())
	raw, err := s.Run(context.Background(), "http://example.test/", models.ResultMap{"mx_records": []interface{}{}}, suites.Options{})
	if err != nil {
		t.Fatal(err)
	}
	result, err := s.Process(context.Background(), raw, nil, suites.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if result["mx_has_ssl"] != false || result["mx_ssl_finished"] != true {
		t.Errorf("result = %v", result)
	}
}

func TestHTTPSSuiteUsesProbe(t *testing.T) {
	srv := tlsServer(t)
	s, err := NewHTTPS(models.TestSSLSuiteConfig{}, nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	prev := models.ResultMap{"final_url": srv.URL + "/", "final_https_url": srv.URL + "/", "final_url_is_https": true}
	raw, err := s.Run(context.Background(), srv.URL+"/", prev, suites.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if a, ok := suites.FindArtifact(raw, hostnameID); !ok || string(a.Data) != "127.0.0.1" {
		t.Fatalf("hostname artifact = %v", a)
	}

	result, err := s.Process(context.Background(), raw, prev, suites.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if result["web_has_ssl"] != true || result["web_ssl_finished"] != true {
		t.Errorf("result = %v", result)
	}
	if result["web_has_hsts_header"] != true || result["web_has_hsts_preload"] != false {
		t.Errorf("hsts keys = %v %v", result["web_has_hsts_header"], result["web_has_hsts_preload"])
	}
}

func TestHTTPSSuiteSkipsPlainSites(t *testing.T) {
	s, err := NewHTTPS(models.TestSSLSuiteConfig{}, nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	prev := models.ResultMap{"final_https_url": false}
	raw, err := s.Run(context.Background(), "http://example.test/", prev, suites.Options{})
	if err != nil {
		t.Fatal(err)
	}
	result, err := s.Process(context.Background(), raw, prev, suites.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if result["web_has_ssl"] != false {
		t.Errorf("result = %v", result)
	}
}
