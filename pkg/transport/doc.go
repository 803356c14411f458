/*
Package transport provides the Fabric abstraction both deployment modes of
spec §4.3 implement: MemoryFabric (single-host, bounded in-memory queues,
10s receive timeout) and SocketFabric (distributed, TLS-wrapped TCP with a
preshared-key HMAC handshake, port-range binding with retry). Every
component's main loop is written once against Conn/Listener/Publisher/
Subscriber and never against the concrete transport; switching deployment
mode is a matter of which Fabric implementation is injected (spec §5).
*/
package transport
