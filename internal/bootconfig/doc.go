// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bootconfig loads the dispatch engine's own bootstrap
// configuration: seed node addresses, TLS material, per-service-type
// timeouts, connection pool bounds, and retry backoff parameters.
//
// Load layers three sources with koanf, lowest to highest priority:
// built-in defaults (Default), an optional YAML file (couchkit.yaml or
// COUCHKIT_CONFIG_PATH), then COUCHKIT_-prefixed environment variables.
// The result is validated with go-playground/validator before Load
// returns it.
//
// This is not the cluster topology. Once the engine connects to a seed
// node it discovers the live topology (buckets, nodes, services) and
// tracks that separately as clustertopo.ClusterConfig.
package bootconfig
