// Package logger provides slog construction and attribute helpers shared by the
// proxy, certificate manager and cluster packages.
//
// Build a logger for the current environment:
//
//	log := logger.New(
//		logger.WithProduction("rproxy"),
//		logger.WithOutput(os.Stderr),
//	)
//
// Attribute helpers return an empty slog.Attr for nil or empty values so they can
// be passed unconditionally:
//
//	log.Error("certificate acquisition failed",
//		logger.Host(host),
//		logger.Error(err),
//		logger.Component("letsencrypt"),
//	)
package logger
