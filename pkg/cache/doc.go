// Package cache allows clients to resume authenticated vehicle sessions.
//
// When a client communicates with a vehicle for the first time, the protocol requires handshake
// round trips before any command can be signed. Using a [SessionCache] allows the client to skip
// those round trips on subsequent connections. If the cached state is outdated (for example,
// because the vehicle's access control unit rebooted during a firmware update), the first command
// fails authentication and the client renegotiates; this costs no more latency than doing the
// handshake up front, so clients typically benefit from a cache and pay no penalty when it is
// stale.
//
// Exported cache data contains the symmetric session keys. Access controls should prevent third
// parties from reading or tampering with exported files.
package cache
