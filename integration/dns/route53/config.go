package route53

import "time"

// Config holds Route 53 settings for dns-01 challenges.
type Config struct {
	HostedZoneID string `env:"ROUTE53_HOSTED_ZONE_ID"`
	Region       string `env:"ROUTE53_REGION" envDefault:"us-east-1"`
	AccessKeyID  string `env:"ROUTE53_ACCESS_KEY_ID"`
	SecretKey    string `env:"ROUTE53_SECRET_KEY"`

	// TTL of the challenge TXT record in seconds.
	TTL int64 `env:"ROUTE53_TTL" envDefault:"60"`

	// ChangeTimeout bounds the wait for a change to reach INSYNC.
	// Zero skips waiting.
	ChangeTimeout time.Duration `env:"ROUTE53_CHANGE_TIMEOUT" envDefault:"5m"`
}
