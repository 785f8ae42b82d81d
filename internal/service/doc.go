// Package service defines the shared vocabulary of the orchestration core:
// static service definitions, the construction-kind tagged union, lifecycle
// tags, and the coded error taxonomy every layer reports through.
package service
