/*
Package security implements the distributed-mode transport's credential
handshake: a self-signed TLS certificate per host, and a preshared-key
HMAC challenge exchanged over that TLS connection before the first command
frame (spec §4.3, §6). NewNonce/Respond/Verify implement the challenge;
pkg/transport.SocketFabric drives the handshake on connect/accept.
*/
package security
