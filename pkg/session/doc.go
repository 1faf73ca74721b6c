/*
Package session serializes conversation turns per key for the network front ends.

A Manager wraps an agent and holds a reference-counted local lock per conversation key,
optionally backed by a distributed lock so that replicas sharing a checkpoint store do not
race on the same thread. The engine's compare-and-swap remains the last line of defence;
the Manager only keeps well-behaved clients from tripping it.
*/
package session
