package ntcp2

import "github.com/go-i2p/logger"

// log is the package-wide structured logger, shared by the Establisher,
// Session and Server so handshake and data-phase events land in one stream.
var log = logger.GetGoI2PLogger()
