// Package route53 answers ACME dns-01 challenges by publishing TXT records
// in an Amazon Route 53 hosted zone.
//
// Provider implements the letsencrypt.DNSProvider capability:
//
//	dns, err := route53.New(ctx, route53.Config{HostedZoneID: "Z123456"})
//	if err != nil {
//		return err
//	}
//	manager, err := letsencrypt.NewManager(store, cfg, letsencrypt.WithDNSProvider(dns))
//
// AddChallenge upserts the record and waits for the change to become
// INSYNC. RemoveChallenge deletes the exact record that was added.
package route53
