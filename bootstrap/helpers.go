package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// remediation holds the operator hints for one backend.
type remediation struct {
	start  string
	logs   string
	config string
	creds  string
}

var remediations = map[string]remediation{
	"persistence": {
		start:  "docker compose up -d neo4j",
		logs:   "docker logs explorviz-neo4j-1",
		config: "persistence.uri",
		creds:  "persistence.username and persistence.credentials_ref",
	},
	"redis": {
		start:  "docker compose up -d redis",
		logs:   "docker logs explorviz-redis-1",
		config: "redis.addr",
		creds:  "redis.password_ref",
	},
}

// ClassifyConnectionError turns a connection failure to component at addr
// into an operator-facing message with remediation hints.
func ClassifyConnectionError(err error, component, addr string) string {
	if err == nil {
		return ""
	}

	hints, ok := remediations[component]
	if !ok {
		hints = remediation{start: "start " + component, logs: "check the " + component + " logs", config: component, creds: component + " credentials"}
	}
	errStr := err.Error()

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Sprintf("Connection to %s at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - %s is starting up (wait and retry)\n"+
			"  - Network latency or firewall blocking the connection\n"+
			"  Remediation:\n"+
			"  - Verify network connectivity: nc -zv %s\n"+
			"  - Raise persistence.connect_timeout if the backend is slow to answer", component, addr, component, addr)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || containsIgnoreCase(errStr, "connection refused") {
		return fmt.Sprintf("Connection refused by %s at %s.\n"+
			"  This usually means %s is not running.\n"+
			"  Remediation:\n"+
			"  - Start it: %s\n"+
			"  - Check its logs: %s\n"+
			"  - Verify %s in config.yaml", component, addr, component, hints.start, hints.logs, hints.config)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || containsIgnoreCase(errStr, "no such host") {
		return fmt.Sprintf("Cannot resolve hostname in %s address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration\n"+
			"  - Try using an IP address (127.0.0.1) instead of a hostname", component, addr)
	}

	if containsIgnoreCase(errStr, "unauthorized") || containsIgnoreCase(errStr, "authentication") || containsIgnoreCase(errStr, "WRONGPASS") {
		return fmt.Sprintf("Authentication failed for %s at %s.\n"+
			"  Remediation:\n"+
			"  - Verify %s\n"+
			"  - Check that the credential reference resolves to the current password", component, addr, hints.creds)
	}

	return fmt.Sprintf("Failed to connect to %s at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure %s is running and accessible\n"+
		"  - Check %s in config.yaml", component, addr, err, component, hints.config)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
