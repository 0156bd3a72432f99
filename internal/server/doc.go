// Package server exposes the turn pipeline over plain HTTP for local runs
// and non-Lambda deployments.
package server
