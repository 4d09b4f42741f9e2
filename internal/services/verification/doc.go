// Package verification routes inbound verification events to requests and
// creates outbound ones.
//
// It owns the to-device and room registries, creates a request for every
// new inbound request (or to-device start), and drops registry entries once
// their request ends.
package verification
