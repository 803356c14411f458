/*
Package wire is the framed-message protocol used by every
pkg/transport.SocketFabric connection: a 4-byte big-endian length prefix
followed by a JSON payload. WritePublish/ReadPublish add the leading topic
frame the publish/subscribe edge (C&C → companions) requires.
*/
package wire
