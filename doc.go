// Package addrlease hands out IPv4 addresses on fixed-length, time-limited
// leases. A Service owns a single in-memory lease table covering the whole
// 0.0.0.0 to 255.255.255.255 range and exposes it through a line-oriented
// shell (ASK, RENEW, RELEASE, STATUS).
//
// # Embedding
//
//	cfg := addrlease.DefaultConfig()
//	cfg.LeaseDuration = 30 * time.Second
//	svc, err := addrlease.NewService(cfg)
//	if err != nil { log.Fatal(err) }
//	if err := svc.Start(ctx); err != nil { log.Fatal(err) }
//	defer svc.Shutdown(context.Background())
//
//	addr, err := svc.Allocator().Allocate(ctx)
//	// addr == 0.0.0.0 on a fresh table
//
// The allocator is usable straight after NewService; Start only launches the
// optional background sweeper and telemetry listeners.
//
// # Lease lifecycle
//
// Allocation scans upward from a cursor, wrapping past 255.255.255.255, and
// takes the first address that has no lease or whose lease has expired.
// Expired leases are reclaimed lazily: by the scan, by a STATUS query, or by
// the sweeper when SweeperInterval is set. RENEW restores the full lease
// duration for any address still present in the table, and RELEASE removes
// it and moves the cursor back to 0.0.0.0 so the next ASK prefers the lowest
// free address.
//
// # Shell
//
//	svc.NewShell(os.Stdin, os.Stdout).Run(ctx)
//
// Each line is one command; responses are single lines such as
// "Offer 0.0.0.0" or "0.0.0.0 ASSIGNED - Time Left: 59 seconds". Set
// Config.Prompt to false for scripted sessions.
//
// # Telemetry
//
// Operations emit OpenTelemetry spans and metrics through the global
// providers. MetricsListen serves a Prometheus /metrics endpoint,
// OTLPEndpoint exports traces, and PprofListen exposes net/http/pprof.
package addrlease
