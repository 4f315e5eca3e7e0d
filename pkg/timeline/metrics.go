package timeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mSnapshots = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_snapshots_applied_total",
		Help: "Live snapshots reconciled into the local cache.",
	})
	mWindows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_windows_delivered_total",
		Help: "Annotated windows delivered to the subscriber callback.",
	})
	mFastPath = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_cache_fast_path_total",
		Help: "Cold starts answered from the cache before the first snapshot.",
	})
	mPaginations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_paginations_total",
		Help: "Backward pagination windows fetched.",
	})
)
