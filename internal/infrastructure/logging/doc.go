// Package logging builds the daemon's structured logger on log/slog.
//
// Every record carries service=cardslot and the build version. Components
// receive a child logger tagged with their name:
//
//	logger := logging.New(cfg.Logging, version)
//	engineLog := logger.Component("uicc")
//	engineLog.Info("slot status applied", "slots", 2)
//
// ICCIDs and EIDs identify subscribers; log them only at debug level.
package logging
