package metrics

import "expvar"

var (
	// 事件流
	StreamReconnects  = expvar.NewInt("stream_reconnects")
	StreamDisconnects = expvar.NewInt("stream_terminal_disconnects")

	// 报价
	Requotes          = expvar.NewInt("quote_requotes")
	KillSwitchTrips   = expvar.NewInt("quote_killswitch_trips")
	ZombieCancels     = expvar.NewInt("quote_zombie_cancels")
	DriftTriggers     = expvar.NewInt("quote_drift_triggers")
	Liquidations      = expvar.NewInt("quote_liquidations")
	PlacementFailures = expvar.NewInt("quote_placement_failures")

	// 套利
	ArbEntries     = expvar.NewInt("arb_leg1_entries")
	ArbCompletions = expvar.NewInt("arb_completions")
	ArbSoftHedges  = expvar.NewInt("arb_soft_hedges")
	ArbSnoozes     = expvar.NewInt("arb_snoozes")
	ArbRedeems     = expvar.NewInt("arb_redeems")
	ArbMerges      = expvar.NewInt("arb_merges")
)
