/*
Package health provides health check mechanisms for probing long-running
application units on a single host. It implements three checker types —
HTTP, TCP, and Exec — behind a common Checker interface, used by the
supervisor's unit inspector to decide when a recovery action is warranted.

# Checker Interface

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

HTTPChecker issues a GET against a configured URL and treats a status code
in the configured range as healthy. TCPChecker treats a successful dial as
healthy. ExecChecker runs a command either on the host or inside a named
container and treats exit code zero as healthy; it is the checker the
inspector actually uses, one per critical unit, configured with that unit's
own liveness command (e.g. pg_isready for postgres-db).

# Usage

	checker := health.NewExecChecker([]string{"pg_isready", "-U", "aegis"}).WithContainer("postgres-db")
	checker.Client = containerdClient
	result := checker.Check(ctx)
	if !result.Healthy {
		// feed into the recovery ladder
	}

A checker with a non-empty container and no Client is a configuration
error, not a silent pass: Check reports it unhealthy rather than guessing.

Config carries the interval/timeout/retries/start-period tuning shared by
all three checker types; the inspector applies its own fixed values rather
than exposing these as per-unit configuration, since the appliance's unit
set is fixed rather than operator-defined.
*/
package health
