package route53

import "errors"

var (
	ErrHostedZoneRequired = errors.New("route53 hosted zone id is required")
	ErrInvalidRecord      = errors.New("invalid dns-01 record")
	ErrInvalidResponse    = errors.New("route53 returned an invalid response")
)
