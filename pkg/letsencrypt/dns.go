package letsencrypt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// PropagationChecker polls one nameserver until a TXT record carries the
// expected value. Attempts are bounded and spaced by a fixed interval.
type PropagationChecker struct {
	Nameserver string
	Attempts   int
	Interval   time.Duration

	client *dns.Client
}

// NewPropagationChecker returns a checker for nameserver ("host" or "host:port").
func NewPropagationChecker(nameserver string, attempts int, interval time.Duration) *PropagationChecker {
	if !strings.Contains(nameserver, ":") {
		nameserver += ":53"
	}
	if attempts < 1 {
		attempts = 1
	}
	return &PropagationChecker{
		Nameserver: nameserver,
		Attempts:   attempts,
		Interval:   interval,
		client:     &dns.Client{Net: "udp", Timeout: 5 * time.Second},
	}
}

// Wait blocks until the record for fqdn resolves to value on the nameserver.
func (p *PropagationChecker) Wait(ctx context.Context, fqdn, value string) error {
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		found, err := p.Check(ctx, fqdn, value)
		if found {
			return nil
		}
		if attempt == p.Attempts {
			if err != nil {
				return fmt.Errorf("%w: %s after %d attempts: %v", ErrPropagationTimeout, fqdn, attempt, err)
			}
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Interval):
		}
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrPropagationTimeout, fqdn, p.Attempts)
}

// Check performs a single TXT lookup.
func (p *PropagationChecker) Check(ctx context.Context, fqdn, value string) (bool, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(fqdn), dns.TypeTXT)
	msg.RecursionDesired = true

	in, _, err := p.client.ExchangeContext(ctx, msg, p.Nameserver)
	if err != nil {
		return false, err
	}
	if in.Rcode != dns.RcodeSuccess && in.Rcode != dns.RcodeNameError {
		return false, fmt.Errorf("nameserver %s answered %s", p.Nameserver, dns.RcodeToString[in.Rcode])
	}
	for _, rr := range in.Answer {
		if txt, ok := rr.(*dns.TXT); ok && strings.Join(txt.Txt, "") == value {
			return true, nil
		}
	}
	return false, nil
}
