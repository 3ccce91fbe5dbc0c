// Package config captures process-level facts (hostname, cwd,
// environment) once at startup into immutable values, instead of
// deferred static initialization or package-level globals. Every
// component that needs one of these facts receives it explicitly
// through its constructor.
package config

import (
	"os"
	"strings"
)

// Process holds facts about the running process captured once, at
// startup, by main().
type Process struct {
	// ShortHost is this machine's short hostname: everything before
	// the first '.' in os.Hostname().
	ShortHost string

	// CWD is the process's working directory at startup.
	CWD string

	// ServerAddr is __history_server: where shell clients send
	// datagrams and dial RPCs. Empty if unset.
	ServerAddr string

	// Mode is __history_mode: "server", "isearch", or "" (plain query
	// client).
	Mode string

	// ShellPWD is __history_pwd: the shell's notion of its own cwd,
	// which overrides CWD when the client may be invoked from a
	// subshell.
	ShellPWD string
}

// LoadProcess captures the current process facts.
func LoadProcess() (Process, error) {
	host, err := os.Hostname()
	if err != nil {
		return Process{}, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return Process{}, err
	}
	return Process{
		ShortHost:  shortHostname(host),
		CWD:        cwd,
		ServerAddr: os.Getenv("__history_server"),
		Mode:       os.Getenv("__history_mode"),
		ShellPWD:   os.Getenv("__history_pwd"),
	}, nil
}

// EffectiveDir returns ShellPWD when set (the shell's view of its own
// cwd, which may differ from the client process's own cwd when the
// alias is invoked from a subshell), falling back to CWD.
func (p Process) EffectiveDir() string {
	if p.ShellPWD != "" {
		return p.ShellPWD
	}
	return p.CWD
}

func shortHostname(host string) string {
	if i := strings.IndexByte(host, '.'); i >= 0 {
		return host[:i]
	}
	return host
}

// DefaultPort is the fixed service port both endpoints bind: UDP for
// ingest, TCP for query. The collision is legal since they are
// separate protocols.
const DefaultPort = 29080

// Server holds the server binary's own tunables, populated from CLI
// flags/positional arguments.
type Server struct {
	// DBPath is the path to the SQLite database file (created if
	// missing).
	DBPath string

	// Port is the service port for both the UDP ingest socket and the
	// TCP query listener.
	Port int

	// Daemonize detaches the process: close stdin, reopen stdout/stderr
	// onto the daemon log file, chdir to /tmp.
	Daemonize bool

	// DaemonLogPath is where stdout/stderr are redirected when
	// Daemonize is set.
	DaemonLogPath string

	// MonitorInterval is how often the self-telemetry sample fires.
	MonitorInterval int // seconds

	// MetricsAddr, if non-empty, serves Prometheus gauges for the
	// monitor's samples. Disabled (empty) by default.
	MetricsAddr string

	LogLevel string
	LogJSON  bool
}
