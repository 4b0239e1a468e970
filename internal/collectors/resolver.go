// File: internal/collectors/resolver.go
package collectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// Resolver answers DNS questions for the collectors that need raw records.
// Implementations must be safe for concurrent use.
type Resolver interface {
	Lookup(ctx context.Context, name string, qtype uint16) ([]dns.RR, error)
}

// DNSResolver queries a single upstream server over UDP with TCP fallback on
// truncation.
type DNSResolver struct {
	client *dns.Client
	server string
}

// NewDNSResolver builds a resolver against server ("host:port"). An empty
// server falls back to the system configuration, then to a public resolver.
func NewDNSResolver(server string) *DNSResolver {
	if server == "" {
		if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(conf.Servers) > 0 {
			server = conf.Servers[0] + ":" + conf.Port
		} else {
			server = "8.8.8.8:53"
		}
	}
	return &DNSResolver{
		client: new(dns.Client),
		server: server,
	}
}

// Lookup resolves name for the given record type. NXDOMAIN and empty answers
// return an empty slice, not an error; errors mean the query itself failed.
func (r *DNSResolver) Lookup(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, fmt.Errorf("dns query %s %s: %w", dns.TypeToString[qtype], name, err)
	}
	if resp.Truncated {
		tcpClient := &dns.Client{Net: "tcp"}
		resp, _, err = tcpClient.ExchangeContext(ctx, msg, r.server)
		if err != nil {
			return nil, fmt.Errorf("dns tcp retry %s %s: %w", dns.TypeToString[qtype], name, err)
		}
	}
	if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
		return nil, fmt.Errorf("dns query %s %s: rcode %s", dns.TypeToString[qtype], name, dns.RcodeToString[resp.Rcode])
	}
	return resp.Answer, nil
}

// LookupTXT returns the joined string values of TXT records at name.
func LookupTXT(ctx context.Context, r Resolver, name string) ([]string, error) {
	answers, err := r.Lookup(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range answers {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	return out, nil
}
