// Package executor defines the contract for the component that performs an
// approved action, and a simulated implementation that enforces single use of
// every intent token.
package executor
