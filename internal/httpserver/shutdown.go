package httpserver

import "time"

// ShutdownTimeout bounds graceful shutdown, including in-flight segment
// streams and the dependency cleanup that follows.
var ShutdownTimeout = 15 * time.Second
