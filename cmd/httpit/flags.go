package main

import "time"

// Flag structs to decouple cobra from logic for testing.

type GlobalFlags struct {
	ConfigPath    string
	LogLevel      string
	LogFormat     string
	SupervisorLog string
	Quiet         bool
}

// ServeFlags holds the wrapper-side flags of the root command. webfsd options
// are not stored here; they are read through the config loader.
type ServeFlags struct {
	MetricsListen    string
	ResourceEvery    time.Duration
	HistoryDSNs      []string
	APIListen        string
	APIBase          string
	APIToken         string
	APIBasic         string
	APITLSCert       string
	APITLSKey        string
	APITLSDir        string
	APITLSAutoGen    bool
	APITLSMinVersion string
}

// APIFlags select a running control API.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	APIToken   string
	APIBasic   string
	APICACert  string
	Insecure   bool
}

type StatusFlags struct {
	APIFlags
	PIDFile string
}

type StopFlags struct {
	APIFlags
	PIDFile string
	Wait    time.Duration
}

type HistoryFlags struct {
	DSN   string
	Name  string
	RunID string
	Since time.Duration
	Limit int
}
