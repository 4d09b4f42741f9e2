// Package commands defines the devtrust CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - init             Create the local device identity
//   - fingerprint      Print the device key fingerprint
//   - login generate   Show a code so another device of yours can sign in
//   - login scan       Sign in using a code shown on another device
//   - simulate         Run a QR verification between two in-memory devices
//   - trust list       List keys verified on this device
//
// # Implementation
//
// The root command builds the dependency graph (stores, identity service,
// relay settings) before any subcommand runs. Commands that act as the local
// device unlock the identity with --passphrase first.
package commands
