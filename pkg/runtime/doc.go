/*
Package runtime wraps containerd for the appliance's single-host service
lifecycle: stop, start, and image pruning against a fixed set of named
containers (postgres-db, metrics-collector, llm-service, dashboard-backend,
minio, plus any store-installed app). It is deliberately narrower than a
cluster orchestrator's runtime layer — containers are provisioned once by
the appliance image or its installer, and Manager only restarts or reclaims
space for what already exists.

# Namespace

Every operation runs in the "aegis" containerd namespace, isolating managed
units from anything else on the same host's containerd.

# Usage

	mgr, err := runtime.NewManager("")
	if err != nil {
		log.Fatal(err)
	}
	defer mgr.Close()

	if err := mgr.Stop(ctx, "llm-service"); err != nil {
		log.Error(err)
	}
	if err := mgr.Start(ctx, "llm-service"); err != nil {
		log.Error(err)
	}

Manager.Client exposes the underlying *containerd.Client for callers (the
service inspector) that need lower-level read access such as task status
and log streaming.
*/
package runtime
