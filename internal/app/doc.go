// Package app wires application dependencies for the CLI.
//
// NewWire builds the file stores, the identity service and the relay
// configuration from Config. Open then unlocks the local identity and adds
// the services that act on its behalf (QR login, trust queries), exposing
// them via the App struct for commands to use.
package app
