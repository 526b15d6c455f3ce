// Package logging provides the gateway's structured logger, a thin
// wrapper over log/slog.
//
// Every entry carries service=wkgateway and the build version. Components
// derive child loggers with With:
//
//	logger := logging.New(cfg.Logging, version)
//	gwLog := logger.With("component", "gateway")
//	gwLog.Info("node announced", "node", 3, "addr", "10.0.0.7:5775")
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log the JWT secret, issued tokens or MQTT credentials.
package logging
