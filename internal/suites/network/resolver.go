package network

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/pkg/utils"
)

type MXRecord struct {
	Preference uint16 `json:"preference"`
	Host       string `json:"host"`
}

// Resolver sends plain DNS queries, rotating over the configured servers and
// retrying over TCP when a UDP answer is truncated.
type Resolver struct {
	servers []string
	timeout time.Duration
	retries int
	udp     *mdns.Client
	tcp     *mdns.Client
	logger  *logrus.Logger

	mu          sync.Mutex
	rotateIndex int
}

func NewResolver(servers []string, timeout time.Duration, retries int, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	if len(servers) == 0 {
		servers = systemResolvers()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retries < 0 {
		retries = 0
	}

	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized = append(normalized, s)
	}

	return &Resolver{
		servers: normalized,
		timeout: timeout,
		retries: retries,
		udp:     &mdns.Client{Net: "udp", Timeout: timeout, UDPSize: 1232},
		tcp:     &mdns.Client{Net: "tcp", Timeout: timeout},
		logger:  logger,
	}
}

// Lookup returns the answer section for name. A name that does not exist
// yields no records and no error.
func (r *Resolver) Lookup(ctx context.Context, name string, qtype uint16) ([]mdns.RR, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(name), qtype)
	msg.RecursionDesired = true
	msg.SetEdns0(1232, false)

	var answer []mdns.RR
	err := utils.RetryWithContext(ctx, r.retries+1, 200*time.Millisecond, func() error {
		server := r.selectServer()
		resp, _, err := r.udp.ExchangeContext(ctx, msg, server)
		if err == nil && resp != nil && resp.Truncated {
			resp, _, err = r.tcp.ExchangeContext(ctx, msg, server)
		}
		if err != nil {
			return fmt.Errorf("query %s %s at %s: %w", name, mdns.TypeToString[qtype], server, err)
		}
		switch resp.Rcode {
		case mdns.RcodeSuccess:
			answer = resp.Answer
			return nil
		case mdns.RcodeNameError:
			answer = nil
			return nil
		default:
			return fmt.Errorf("query %s %s: %s", name, mdns.TypeToString[qtype], mdns.RcodeToString[resp.Rcode])
		}
	})
	return answer, err
}

func (r *Resolver) A(ctx context.Context, name string) []string {
	var out []string
	for _, rr := range r.lookupQuietly(ctx, name, mdns.TypeA) {
		if a, ok := rr.(*mdns.A); ok {
			out = append(out, a.A.String())
		}
	}
	return utils.RemoveDuplicates(out)
}

func (r *Resolver) CNAME(ctx context.Context, name string) []string {
	var out []string
	for _, rr := range r.lookupQuietly(ctx, name, mdns.TypeCNAME) {
		if c, ok := rr.(*mdns.CNAME); ok {
			out = append(out, trimDot(c.Target))
		}
	}
	return out
}

// MX returns the mail exchangers of name ordered by preference.
func (r *Resolver) MX(ctx context.Context, name string) []MXRecord {
	var out []MXRecord
	for _, rr := range r.lookupQuietly(ctx, name, mdns.TypeMX) {
		if mx, ok := rr.(*mdns.MX); ok {
			out = append(out, MXRecord{Preference: mx.Preference, Host: trimDot(mx.Mx)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Preference < out[j].Preference })
	return out
}

func (r *Resolver) PTR(ctx context.Context, ip string) []string {
	arpa, err := mdns.ReverseAddr(ip)
	if err != nil {
		return nil
	}
	var out []string
	for _, rr := range r.lookupQuietly(ctx, arpa, mdns.TypePTR) {
		if ptr, ok := rr.(*mdns.PTR); ok {
			out = append(out, trimDot(ptr.Ptr))
		}
	}
	return out
}

func (r *Resolver) lookupQuietly(ctx context.Context, name string, qtype uint16) []mdns.RR {
	rrs, err := r.Lookup(ctx, name, qtype)
	if err != nil {
		r.logger.Debugf("DNS lookup failed: %v", err)
	}
	return rrs
}

func (r *Resolver) selectServer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	server := r.servers[r.rotateIndex%len(r.servers)]
	r.rotateIndex = (r.rotateIndex + 1) % len(r.servers)
	return server
}

func trimDot(s string) string { return strings.ToLower(strings.TrimSuffix(s, ".")) }

func systemResolvers() []string {
	cfg, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return []string{"1.1.1.1:53", "9.9.9.9:53"}
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return servers
}
