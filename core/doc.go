// Package core defines the shared domain types of Conclave: conversation
// threads and their turns, provider profiles and availability, the Provider
// and ThreadStore interfaces, and the error taxonomy used across packages.
//
// Everything here is transport-agnostic. Concrete stores live in package
// thread, concrete providers under package gateway.
package core
