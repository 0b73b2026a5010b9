package route53

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/dmitrymomot/rproxy/core/logger"
	le "github.com/dmitrymomot/rproxy/pkg/letsencrypt"
)

var _ le.DNSProvider = (*Provider)(nil)

// Client is the subset of the Route 53 API used by Provider.
type Client interface {
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
	GetChange(ctx context.Context, params *route53.GetChangeInput, optFns ...func(*route53.Options)) (*route53.GetChangeOutput, error)
}

// Provider publishes dns-01 TXT records in a Route 53 hosted zone.
// Changes are serialized to stay under the Route 53 rate limit.
type Provider struct {
	client        Client
	zoneID        string
	ttl           int64
	changeTimeout time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	records map[string]string
}

// Option configures a Provider.
type Option func(*Provider)

// WithClient sets a pre-configured Route 53 client.
func WithClient(c Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Route 53 dns-01 provider.
func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	if cfg.HostedZoneID == "" {
		return nil, ErrHostedZoneRequired
	}

	p := &Provider{
		zoneID:        cfg.HostedZoneID,
		ttl:           cfg.TTL,
		changeTimeout: cfg.ChangeTimeout,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		records:       make(map[string]string),
	}
	if p.ttl <= 0 {
		p.ttl = 60
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		awsOptions := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Region),
		}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOptions = append(awsOptions,
				config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID,
					cfg.SecretKey,
					"",
				)),
			)
		}
		awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		p.client = route53.NewFromConfig(awsConfig)
	}

	p.logger = p.logger.With(logger.Component("route53"))
	return p, nil
}

// AddChallenge upserts the TXT record and waits until Route 53 reports the
// change as INSYNC.
func (p *Provider) AddChallenge(ctx context.Context, domain, value string) error {
	name, err := recordName(domain)
	if err != nil {
		return err
	}
	if value == "" || strings.ContainsAny(value, "\" \t\n") {
		return fmt.Errorf("%w: bad value for %s", ErrInvalidRecord, name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out, err := p.change(ctx, types.ChangeActionUpsert, name, value)
	if err != nil {
		return fmt.Errorf("create dns record: %w", err)
	}
	if out == nil || out.ChangeInfo == nil || out.ChangeInfo.Id == nil {
		return ErrInvalidResponse
	}
	p.records[name] = value

	if p.changeTimeout <= 0 {
		return nil
	}
	waiter := route53.NewResourceRecordSetsChangedWaiter(p.client)
	if err := waiter.Wait(ctx, &route53.GetChangeInput{Id: out.ChangeInfo.Id}, p.changeTimeout); err != nil {
		p.logger.ErrorContext(ctx, "route53 change did not propagate",
			logger.Key("record", name),
			logger.Key("change_id", aws.ToString(out.ChangeInfo.Id)),
			logger.Error(err),
		)
		return fmt.Errorf("wait for dns record %s: %w", name, err)
	}
	return nil
}

// RemoveChallenge deletes the TXT record previously added for domain.
// Unknown records are ignored.
func (p *Provider) RemoveChallenge(ctx context.Context, domain string) error {
	name, err := recordName(domain)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	value, ok := p.records[name]
	if !ok {
		return nil
	}
	if _, err := p.change(ctx, types.ChangeActionDelete, name, value); err != nil {
		return fmt.Errorf("delete dns record: %w", err)
	}
	delete(p.records, name)
	return nil
}

func (p *Provider) change(ctx context.Context, action types.ChangeAction, name, value string) (*route53.ChangeResourceRecordSetsOutput, error) {
	return p.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.zoneID),
		ChangeBatch: &types.ChangeBatch{
			Comment: aws.String("acme dns-01 challenge"),
			Changes: []types.Change{
				{
					Action: action,
					ResourceRecordSet: &types.ResourceRecordSet{
						Name: aws.String(name),
						Type: types.RRTypeTxt,
						TTL:  aws.Int64(p.ttl),
						ResourceRecords: []types.ResourceRecord{
							{Value: aws.String(`"` + value + `"`)},
						},
					},
				},
			},
		},
	})
}

// recordName returns the fully qualified record name with a trailing dot.
func recordName(domain string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(domain))
	if name == "" || strings.ContainsAny(name, " \t\n\"") {
		return "", fmt.Errorf("%w: bad name %q", ErrInvalidRecord, domain)
	}
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	return name, nil
}
