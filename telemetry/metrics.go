// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package telemetry exposes prometheus metrics for the routing core.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// ExchangeRounds counts collective exchange rounds, labeled by the
	// phase that ran them ("handshake" or "spikes").
	ExchangeRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spikenet",
			Name:      "exchange_rounds_total",
			Help:      "Total number of collective exchange rounds.",
		},
		[]string{"phase"},
	)

	// ExchangeWords counts uint64 words moved through the collective
	// layer, labeled by phase.
	ExchangeWords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spikenet",
			Name:      "exchange_words_total",
			Help:      "Total 64-bit words sent through the collective layer.",
		},
		[]string{"phase"},
	)

	// TargetEntries counts Target entries added during handshakes.
	TargetEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spikenet",
			Name:      "target_entries_total",
			Help:      "Total target entries added to the target table.",
		},
	)

	// SpikesRouted counts SpikeData records packed into send buffers.
	SpikesRouted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spikenet",
			Name:      "spikes_routed_total",
			Help:      "Total spike records routed to remote ranks.",
		},
	)

	// SpikesDelivered counts spike events handed to local nodes.
	SpikesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spikenet",
			Name:      "spikes_delivered_total",
			Help:      "Total spike events delivered to local nodes.",
		},
	)

	// TableBytes reports the memory footprint of the routing tables,
	// labeled by table ("sources", "targets", "connections").
	TableBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "spikenet",
			Name:      "table_bytes",
			Help:      "Current memory footprint of routing tables in bytes.",
		},
		[]string{"table"},
	)
)

func init() {
	Registry.MustRegister(ExchangeRounds, ExchangeWords, TargetEntries,
		SpikesRouted, SpikesDelivered, TableBytes)
}

// MetricsHandler exposes the registry for mounting on /metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
