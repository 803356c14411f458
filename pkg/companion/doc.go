// Package companion implements the Application Companion (spec §4.5): the
// per-action supervisor that pins CPU affinity, embeds an Application
// Manager, negotiates interscale-hub endpoints during INIT, and drives the
// steering loop between Command & Control and its Manager.
package companion
