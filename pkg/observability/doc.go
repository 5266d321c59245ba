/*
Package observability exports Prometheus metrics for workflow sessions.

A Metrics value is wired into a session through its Hooks and into a
reconnecting channel through ReconnectHook:

	m := observability.NewMetrics()
	s := session.New(wf, session.WithHooks(m.Hooks()))
	rc := channel.NewReconnector(policy, clock, channel.WithScheduleHook(m.ReconnectHook()))
	http.Handle("/metrics", m.Handler())
*/
package observability
