package server

import "github.com/dotside-studios/seatlink-agent/buildinfo"

// mDNS service discovery
var (
	MDNSServiceType = "_seatlink._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// CallerHeader carries the caller's session key. Requests without it are
// keyed by remote host.
const CallerHeader = "X-Caller-Session"

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization, " + CallerHeader
)

const maxRequestBody = 256 * 1024
