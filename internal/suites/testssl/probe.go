package testssl

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	ct "github.com/google/certificate-transparency-go"
	cttls "github.com/google/certificate-transparency-go/tls"
	ctx509 "github.com/google/certificate-transparency-go/x509"
	mdns "github.com/miekg/dns"
	utls "github.com/refraction-networking/utls"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ocsp"

	"github.com/bl4ck0w1/scorelynx/internal/suites/network"
	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

// ErrNoTLS is returned when no protocol version could be negotiated.
var ErrNoTLS = errors.New("no TLS handshake possible")

const hstsMinAge = 15552000

var mustStapleOID = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 24}

var protocolVersions = []struct {
	id      string
	version uint16
}{
	{"tls1", tls.VersionTLS10},
	{"tls1_1", tls.VersionTLS11},
	{"tls1_2", tls.VersionTLS12},
	{"tls1_3", tls.VersionTLS13},
}

// clientHellos are the browser profiles the default protocol and cipher are
// negotiated with.
var clientHellos = map[string]utls.ClientHelloID{
	"chrome":  utls.HelloChrome_Auto,
	"firefox": utls.HelloFirefox_Auto,
	"safari":  utls.HelloSafari_Auto,
	"edge":    utls.HelloEdge_Auto,
	"golang":  utls.HelloGolang,
}

// Probe is a native stand-in for testssl.sh. It covers the checks that can be
// run with ordinary handshakes and reports them with testssl ids and
// severities.
type Probe struct {
	dial      Dialer
	timeout   time.Duration
	roots     *x509.CertPool
	resolver  *network.Resolver
	userAgent string
	hello     utls.ClientHelloID
	now       func() time.Time
	logger    *logrus.Logger
}

func NewProbe(dial Dialer, timeout time.Duration, resolver *network.Resolver, logger *logrus.Logger) *Probe {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if dial == nil {
		dial = directDialer(timeout)
	}
	return &Probe{
		dial:     dial,
		timeout:  timeout,
		resolver: resolver,
		hello:    utls.HelloChrome_Auto,
		now:      time.Now,
		logger:   logger,
	}
}

func (p *Probe) SetClientHello(name string) error {
	id, ok := clientHellos[name]
	if !ok {
		return fmt.Errorf("unknown client hello: %s", name)
	}
	p.hello = id
	return nil
}

type section struct {
	name     string
	findings []Finding
}

func (s *section) add(id, severity, finding string) {
	s.findings = append(s.findings, Finding{ID: id, Severity: severity, Finding: finding})
}

// Scan probes host at addr and returns a testssl-style JSON document. The
// HTTP headers are only inspected when web is set.
func (p *Probe) Scan(ctx context.Context, host, addr string, web bool) ([]byte, error) {
	protocols := &section{name: "protocols"}
	offered := map[uint16]bool{}
	for _, pv := range protocolVersions {
		_, err := p.handshake(ctx, addr, host, p.versionConfig(host, pv.version))
		ok := err == nil
		offered[pv.version] = ok
		protocols.add(pv.id, protocolSeverity(pv.id, ok), offeredText(ok))
	}
	if !offered[tls.VersionTLS10] && !offered[tls.VersionTLS11] && !offered[tls.VersionTLS12] && !offered[tls.VersionTLS13] {
		return nil, ErrNoTLS
	}

	state, err := p.handshake(ctx, addr, host, p.config(host))
	if err != nil {
		return nil, fmt.Errorf("default handshake: %w", err)
	}

	defaults := &section{name: "serverDefaults"}
	p.certificateFindings(defaults, host, state)
	p.sessionTicket(ctx, defaults, addr, host, offered[tls.VersionTLS12])
	if p.resolver != nil {
		p.caaRecord(ctx, defaults, host)
	}

	prefs := &section{name: "serverPreferences"}
	p.serverPreferences(ctx, prefs, addr, host, offered[tls.VersionTLS12])

	fs := &section{name: "fs"}
	switch {
	case offered[tls.VersionTLS13]:
		fs.add("pfs", "OK", "offered")
	case p.offers(ctx, addr, host, ecdheSuites()):
		fs.add("pfs", "OK", "offered")
	default:
		fs.add("pfs", "MEDIUM", "not offered")
	}

	ciphers := &section{name: "ciphers"}
	vulns := &section{name: "vulnerabilities"}
	p.cipherCategories(ctx, ciphers, vulns, addr, host)

	sections := []*section{protocols, ciphers, prefs, fs, defaults, vulns}
	if web {
		headers := &section{name: "headerResponse"}
		p.headerResponse(ctx, headers, vulns, addr, host)
		sections = append(sections, headers)
	}

	result := map[string]interface{}{"targetHost": host, "port": portOf(addr)}
	for _, s := range sections {
		if s.findings == nil {
			s.findings = []Finding{}
		}
		result[s.name] = s.findings
	}
	return json.MarshalIndent(map[string]interface{}{"scanResult": []interface{}{result}}, "", "  ")
}

func (p *Probe) config(host string) *tls.Config {
	return &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS10,
	}
}

func (p *Probe) versionConfig(host string, version uint16) *tls.Config {
	cfg := p.config(host)
	cfg.MinVersion = version
	cfg.MaxVersion = version
	cfg.CipherSuites = allSuites()
	return cfg
}

func (p *Probe) handshake(ctx context.Context, addr, host string, cfg *tls.Config) (*tls.ConnectionState, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	conn := tls.Client(raw, cfg)
	defer conn.Close()

	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	state := conn.ConnectionState()
	return &state, nil
}

// Possible reports whether a handshake with default settings succeeds.
func (p *Probe) Possible(ctx context.Context, addr, host string) bool {
	_, err := p.handshake(ctx, addr, host, p.config(host))
	return err == nil
}

func (p *Probe) offers(ctx context.Context, addr, host string, suites []uint16) bool {
	if len(suites) == 0 {
		return false
	}
	cfg := p.config(host)
	cfg.MaxVersion = tls.VersionTLS12
	cfg.CipherSuites = suites
	_, err := p.handshake(ctx, addr, host, cfg)
	return err == nil
}

func protocolSeverity(id string, offered bool) string {
	switch id {
	case "tls1", "tls1_1":
		if offered {
			return "LOW"
		}
		return "INFO"
	case "tls1_2":
		if offered {
			return "OK"
		}
		return "MEDIUM"
	default:
		if offered {
			return "OK"
		}
		return "INFO"
	}
}

func offeredText(ok bool) string {
	if ok {
		return "offered"
	}
	return "not offered"
}

func (p *Probe) certificateFindings(s *section, host string, state *tls.ConnectionState) {
	if len(state.PeerCertificates) == 0 {
		return
	}
	leaf := state.PeerCertificates[0]
	now := p.now()

	intermediates := x509.NewCertPool()
	for _, c := range state.PeerCertificates[1:] {
		intermediates.AddCert(c)
	}
	_, err := leaf.Verify(x509.VerifyOptions{Roots: p.roots, Intermediates: intermediates, CurrentTime: now})
	if err != nil {
		s.add("cert_chain_of_trust", "CRITICAL", "failed ("+err.Error()+")")
	} else {
		s.add("cert_chain_of_trust", "OK", "passed.")
	}

	if err := leaf.VerifyHostname(host); err != nil {
		s.add("cert_trust", "HIGH", "certificate does not match supplied URI")
	} else {
		s.add("cert_trust", "OK", "Ok via SAN")
	}

	days := int(leaf.NotAfter.Sub(now).Hours() / 24)
	validity := fmt.Sprintf("%s --> %s", leaf.NotBefore.Format("2006-01-02 15:04"), leaf.NotAfter.Format("2006-01-02 15:04"))
	switch {
	case now.After(leaf.NotAfter):
		s.add("expiration", "CRITICAL", "expired")
	case now.Before(leaf.NotBefore):
		s.add("expiration", "CRITICAL", "not yet valid")
	case days < 30:
		s.add("expiration", "MEDIUM", fmt.Sprintf("expires < 30 days (%d) (%s)", days, validity))
	default:
		s.add("expiration", "OK", fmt.Sprintf("%d >= 30 days (%s)", days, validity))
	}

	s.add("key_size", keySeverity(leaf), keyFinding(leaf))

	switch leaf.SignatureAlgorithm {
	case x509.MD2WithRSA, x509.MD5WithRSA:
		s.add("algorithm", "CRITICAL", leaf.SignatureAlgorithm.String())
	case x509.SHA1WithRSA, x509.DSAWithSHA1, x509.ECDSAWithSHA1:
		s.add("algorithm", "MEDIUM", leaf.SignatureAlgorithm.String())
	default:
		s.add("algorithm", "OK", leaf.SignatureAlgorithm.String())
	}

	names := append([]string(nil), leaf.DNSNames...)
	for _, ip := range leaf.IPAddresses {
		names = append(names, ip.String())
	}
	if len(names) == 0 {
		s.add("san", "MEDIUM", "missing (subjectAltName)")
	} else {
		s.add("san", "INFO", strings.Join(names, " "))
	}

	switch {
	case len(leaf.CRLDistributionPoints) > 0:
		s.add("crl", "INFO", strings.Join(leaf.CRLDistributionPoints, " "))
	case len(leaf.OCSPServer) > 0:
		s.add("crl", "INFO", "--")
	default:
		s.add("crl", "HIGH", "--")
	}
	if len(leaf.OCSPServer) > 0 {
		s.add("ocsp_uri", "INFO", "OCSP URI : "+strings.Join(leaf.OCSPServer, " "))
	} else {
		s.add("ocsp_uri", "INFO", "OCSP URI : --")
	}

	var issuer *x509.Certificate
	if len(state.PeerCertificates) > 1 {
		issuer = state.PeerCertificates[1]
	}
	switch {
	case len(state.OCSPResponse) == 0:
		s.add("ocsp_stapling", "LOW", "not offered")
	default:
		resp, err := ocsp.ParseResponse(state.OCSPResponse, issuer)
		switch {
		case err != nil:
			s.add("ocsp_stapling", "LOW", "offered, error querying OCSP response ("+err.Error()+")")
		case resp.Status == ocsp.Good:
			s.add("ocsp_stapling", "OK", "offered")
		default:
			s.add("ocsp_stapling", "CRITICAL", "offered, certificate revoked")
		}
	}

	mustStaple := false
	for _, ext := range leaf.Extensions {
		if ext.Id.Equal(mustStapleOID) {
			mustStaple = true
		}
	}
	if mustStaple {
		s.add("ocsp_must_staple", "OK", "supported")
	} else {
		s.add("ocsp_must_staple", "INFO", "--")
	}

	s.add(ctFinding(leaf, state.SignedCertificateTimestamps))
}

func keySeverity(cert *x509.Certificate) string {
	switch key := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		bits := key.N.BitLen()
		switch {
		case bits < 1024:
			return "CRITICAL"
		case bits < 2048:
			return "MEDIUM"
		}
		return "OK"
	case *ecdsa.PublicKey:
		if key.Curve.Params().BitSize < 224 {
			return "MEDIUM"
		}
		return "OK"
	case ed25519.PublicKey:
		return "OK"
	}
	return "INFO"
}

func keyFinding(cert *x509.Certificate) string {
	switch key := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return fmt.Sprintf("RSA %d bits", key.N.BitLen())
	case *ecdsa.PublicKey:
		return fmt.Sprintf("EC %d bits", key.Curve.Params().BitSize)
	case ed25519.PublicKey:
		return "EdDSA 253 bits"
	}
	return cert.PublicKeyAlgorithm.String()
}

// ctFinding counts the signed certificate timestamps delivered in the TLS
// extension and embedded in the certificate.
func ctFinding(leaf *x509.Certificate, tlsSCTs [][]byte) (string, string, string) {
	var sources []string

	valid := 0
	for _, raw := range tlsSCTs {
		var sct ct.SignedCertificateTimestamp
		if _, err := cttls.Unmarshal(raw, &sct); err == nil && sct.SCTVersion == ct.V1 {
			valid++
		}
	}
	if valid > 0 {
		sources = append(sources, "TLS extension")
	}

	cert, err := ctx509.ParseCertificate(leaf.Raw)
	if cert != nil && !ctx509.IsFatal(err) && len(cert.SCTList.SCTList) > 0 {
		sources = append(sources, "certificate extension")
	}

	if len(sources) == 0 {
		return "certificate_transparency", "LOW", "--"
	}
	return "certificate_transparency", "OK", "yes (" + strings.Join(sources, ", ") + ")"
}

type ticketRecorder struct {
	tls.ClientSessionCache
	issued bool
}

func (r *ticketRecorder) Put(key string, cs *tls.ClientSessionState) {
	if cs != nil {
		r.issued = true
	}
	r.ClientSessionCache.Put(key, cs)
}

func (p *Probe) sessionTicket(ctx context.Context, s *section, addr, host string, tls12 bool) {
	if !tls12 {
		return
	}
	recorder := &ticketRecorder{ClientSessionCache: tls.NewLRUClientSessionCache(1)}
	cfg := p.config(host)
	cfg.MaxVersion = tls.VersionTLS12
	cfg.ClientSessionCache = recorder
	if _, err := p.handshake(ctx, addr, host, cfg); err != nil {
		return
	}
	if recorder.issued {
		s.add("session_ticket", "INFO", "valid")
	} else {
		s.add("session_ticket", "INFO", "no -- no lifetime advertised")
	}
}

// caaRecord walks from host towards the root until a CAA record set is found.
func (p *Probe) caaRecord(ctx context.Context, s *section, host string) {
	if net.ParseIP(host) != nil {
		return
	}
	name := strings.TrimSuffix(host, ".")
	for strings.Contains(name, ".") {
		rrs, err := p.resolver.Lookup(ctx, name, mdns.TypeCAA)
		if err != nil {
			s.add("CAA_record", "WARN", "lookup failed")
			return
		}
		var values []string
		for _, rr := range rrs {
			if caa, ok := rr.(*mdns.CAA); ok {
				values = append(values, caa.Tag+"="+caa.Value)
			}
		}
		if len(values) > 0 {
			s.add("CAA_record", "OK", strings.Join(values, " "))
			return
		}
		name = name[strings.IndexByte(name, '.')+1:]
	}
	s.add("CAA_record", "LOW", "--")
}

func (p *Probe) serverPreferences(ctx context.Context, s *section, addr, host string, tls12 bool) {
	if tls12 {
		suites := secureSuites()
		cfg := p.config(host)
		cfg.MinVersion, cfg.MaxVersion = tls.VersionTLS12, tls.VersionTLS12
		cfg.CipherSuites = suites
		first, err1 := p.handshake(ctx, addr, host, cfg)

		reversed := make([]uint16, len(suites))
		for i, id := range suites {
			reversed[len(suites)-1-i] = id
		}
		cfg = cfg.Clone()
		cfg.CipherSuites = reversed
		second, err2 := p.handshake(ctx, addr, host, cfg)

		if err1 == nil && err2 == nil {
			if first.CipherSuite == second.CipherSuite {
				s.add("order", "OK", "server")
			} else {
				s.add("order", "MEDIUM", "NOT a cipher order configured")
			}
		}
	}

	version, suite, err := p.browserHandshake(ctx, addr, host)
	if err != nil {
		s.add("order_proto", "WARN", "default protocol could not be determined")
		s.add("order_cipher", "WARN", "default cipher could not be determined")
		return
	}
	if version >= tls.VersionTLS12 {
		s.add("order_proto", "OK", tls.VersionName(version))
	} else {
		s.add("order_proto", "MEDIUM", tls.VersionName(version))
	}
	s.add("order_cipher", cipherSeverity(suite), tls.CipherSuiteName(suite))
}

// browserHandshake negotiates with the hello of a current browser so the
// result matches what visitors get.
func (p *Probe) browserHandshake(ctx context.Context, addr, host string) (uint16, uint16, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.dial(ctx, addr)
	if err != nil {
		return 0, 0, err
	}
	conn := utls.UClient(raw, &utls.Config{ServerName: host, InsecureSkipVerify: true}, p.hello)
	defer conn.Close()
	if err := conn.HandshakeContext(ctx); err != nil {
		return 0, 0, err
	}
	state := conn.ConnectionState()
	return state.Version, state.CipherSuite, nil
}

func cipherSeverity(id uint16) string {
	name := tls.CipherSuiteName(id)
	switch {
	case strings.Contains(name, "RC4"):
		return "HIGH"
	case strings.Contains(name, "3DES"):
		return "MEDIUM"
	case strings.Contains(name, "CBC"):
		return "LOW"
	}
	return "OK"
}

func allSuites() []uint16 {
	var ids []uint16
	for _, s := range tls.CipherSuites() {
		ids = append(ids, s.ID)
	}
	for _, s := range tls.InsecureCipherSuites() {
		ids = append(ids, s.ID)
	}
	return ids
}

func secureSuites() []uint16 {
	var ids []uint16
	for _, s := range tls.CipherSuites() {
		if tls12Capable(s) {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func tls12Capable(s *tls.CipherSuite) bool {
	for _, v := range s.SupportedVersions {
		if v == tls.VersionTLS12 {
			return true
		}
	}
	return false
}

func suitesMatching(match func(name string) bool) []uint16 {
	var ids []uint16
	for _, list := range [][]*tls.CipherSuite{tls.CipherSuites(), tls.InsecureCipherSuites()} {
		for _, s := range list {
			if tls12Capable(s) && match(s.Name) {
				ids = append(ids, s.ID)
			}
		}
	}
	return ids
}

func ecdheSuites() []uint16 {
	return suitesMatching(func(name string) bool { return strings.HasPrefix(name, "TLS_ECDHE_") })
}

func aead(name string) bool {
	return strings.Contains(name, "_GCM_") || strings.Contains(name, "CHACHA20")
}

func (p *Probe) cipherCategories(ctx context.Context, ciphers, vulns *section, addr, host string) {
	rc4 := p.offers(ctx, addr, host, suitesMatching(func(n string) bool { return strings.Contains(n, "RC4") }))
	if rc4 {
		ciphers.add("std_128Bit", "HIGH", "offered")
		vulns.add("rc4", "HIGH", "VULNERABLE (NOT ok)")
	} else {
		ciphers.add("std_128Bit", "OK", "not offered")
		vulns.add("rc4", "OK", "no RC4 ciphers detected")
	}

	tripleDES := p.offers(ctx, addr, host, suitesMatching(func(n string) bool { return strings.Contains(n, "3DES") }))
	if tripleDES {
		ciphers.add("std_3DES", "MEDIUM", "offered")
		vulns.add("sweet32", "LOW", "VULNERABLE, uses 64 bit block ciphers")
	} else {
		ciphers.add("std_3DES", "OK", "not offered")
		vulns.add("sweet32", "OK", "not vulnerable")
	}

	high := p.offers(ctx, addr, host, suitesMatching(func(n string) bool {
		return strings.Contains(n, "_AES_") && !aead(n)
	}))
	if high {
		ciphers.add("std_HIGH", "OK", "offered")
	} else {
		ciphers.add("std_HIGH", "INFO", "not offered")
	}

	strong := p.offers(ctx, addr, host, suitesMatching(aead))
	if strong {
		ciphers.add("std_STRONG", "OK", "offered")
	} else {
		ciphers.add("std_STRONG", "MEDIUM", "not offered")
	}
}

// headerResponse fetches / over HTTPS for the HSTS, HPKP and BREACH findings.
func (p *Probe) headerResponse(ctx context.Context, s, vulns *section, addr, host string) {
	client := utils.NewHTTPClient(p.timeout, p.userAgent, false)
	target := "https://" + net.JoinHostPort(host, portOf(addr)) + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return
	}
	// Set explicitly so the transport keeps the Content-Encoding header.
	req.Header.Set("Accept-Encoding", "gzip,deflate")
	resp, err := client.Do(req)
	if err != nil {
		p.logger.Debugf("Header request to %s failed: %v", target, err)
		return
	}
	resp.Body.Close()

	if enc := resp.Header.Get("Content-Encoding"); enc != "" {
		vulns.add("breach", "MEDIUM", "potentially VULNERABLE, uses "+enc+" HTTP compression")
	} else {
		vulns.add("breach", "OK", "not vulnerable, no HTTP compression")
	}

	if sts := resp.Header.Get("Strict-Transport-Security"); sts == "" {
		s.add("hsts", "LOW", "not offered")
	} else {
		maxAge, subdomains, preload := parseHSTS(sts)
		if maxAge >= hstsMinAge {
			s.add("hsts_time", "OK", fmt.Sprintf("%d seconds", maxAge))
		} else {
			s.add("hsts_time", "LOW", fmt.Sprintf("%d seconds is too short", maxAge))
		}
		if subdomains {
			s.add("hsts_subdomains", "OK", "includes subdomains")
		} else {
			s.add("hsts_subdomains", "INFO", "only for this domain")
		}
		if preload {
			s.add("hsts_preload", "OK", "domain IS marked for preloading")
		} else {
			s.add("hsts_preload", "INFO", "domain is NOT marked for preloading")
		}
	}

	if pins := resp.Header.Values("Public-Key-Pins"); len(pins) > 0 {
		s.add("hpkp_spkis", "OK", fmt.Sprintf("%d pins", strings.Count(strings.Join(pins, ";"), "pin-sha256")))
	} else {
		s.add("hpkp", "INFO", "No support for HTTP Public Key Pinning")
	}
}

func parseHSTS(value string) (maxAge int, subdomains, preload bool) {
	for _, directive := range strings.Split(value, ";") {
		name, val, _ := strings.Cut(strings.TrimSpace(directive), "=")
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "max-age":
			if n, err := strconv.Atoi(strings.Trim(strings.TrimSpace(val), `"`)); err == nil {
				maxAge = n
			}
		case "includesubdomains":
			subdomains = true
		case "preload":
			preload = true
		}
	}
	return maxAge, subdomains, preload
}

func portOf(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "443"
	}
	return port
}
