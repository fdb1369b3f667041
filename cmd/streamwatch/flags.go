package main

import "time"

// Flag structs to decouple cobra from logic for testing.

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// DaemonFlags holds flags for the daemon command.
type DaemonFlags struct {
	ConfigPath string
}

// ClientFlags holds flags for commands that talk to a running daemon.
type ClientFlags struct {
	ConfigPath string
	Timeout    time.Duration
}

// ProbeFlags holds flags for the probe command.
type ProbeFlags struct {
	ClientFlags
	TargetID int64
}

// TargetAddFlags holds flags for target add.
type TargetAddFlags struct {
	ConfigPath string
	Address    string
	Name       string
	Quality    string
	Disabled   bool
}

// TargetFlags holds flags for target list/enable/disable.
type TargetFlags struct {
	ConfigPath string
	TargetID   int64
}
